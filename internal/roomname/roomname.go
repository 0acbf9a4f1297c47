package roomname

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Words is the number of words in a generated name.
const Words = 4

// maxAttempts bounds the retry loop when taken keeps reporting collisions.
const maxAttempts = 64

// Generate creates a random, memorable room name using word combinations.
// Format: word-word-word-word (e.g., "harbor-amber-cello-vega")
// Each word comes from a different list. taken may be nil; when set, names it
// reports as in use are skipped.
func Generate(taken func(string) bool) (string, error) {
	pools := [][]string{places, weather, colors, instruments, trees, stars}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := pick(len(pools), Words)
		if err != nil {
			return "", err
		}

		words := make([]string, 0, Words)
		for _, idx := range order {
			i, err := randomIndex(len(pools[idx]))
			if err != nil {
				return "", err
			}
			words = append(words, pools[idx][i])
		}

		name := strings.Join(words, "-")
		if taken == nil || !taken(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free room name after %d attempts", maxAttempts)
}

// pick returns k distinct indexes in [0, n).
func pick(n, k int) ([]int, error) {
	used := make(map[int]bool, k)
	out := make([]int, 0, k)
	for len(out) < k {
		i, err := randomIndex(n)
		if err != nil {
			return nil, err
		}
		if !used[i] {
			used[i] = true
			out = append(out, i)
		}
	}
	return out, nil
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generate random index: %w", err)
	}
	return int(n.Int64()), nil
}
