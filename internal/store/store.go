// Package store is the in-memory application state shared between a session's
// components. It knows a fixed set of keys and reports which of them changed
// on every update.
package store

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/BioHazard786/roomsync/internal/syncerr"
)

// Store holds key/value application state.
type Store struct {
	mu        sync.Mutex
	state     map[string]any
	listeners map[int]func(changed []string)
	nextID    int
}

// New creates a store whose known keys are exactly the keys of initial.
func New(initial map[string]any) *Store {
	state := maps.Clone(initial)
	if state == nil {
		state = make(map[string]any)
	}
	return &Store{
		state:     state,
		listeners: make(map[int]func([]string)),
	}
}

// Knows reports whether key is part of the application state.
func (s *Store) Knows(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state[key]
	return ok
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Keys returns the known keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the values of keys, or of every key when none are given.
// Unknown keys are skipped.
func (s *Store) Snapshot(keys ...string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		return maps.Clone(s.state)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.state[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Update applies patch as one batch and notifies subscribers once with the
// keys whose value changed. Unknown keys reject the whole patch.
func (s *Store) Update(patch map[string]any) error {
	s.mu.Lock()
	for k := range patch {
		if _, ok := s.state[k]; !ok {
			s.mu.Unlock()
			return syncerr.WrapError("update state", syncerr.ErrBadArguments, fmt.Sprintf("unknown key %q", k))
		}
	}

	var changed []string
	for k, v := range patch {
		if reflect.DeepEqual(s.state[k], v) {
			continue
		}
		s.state[k] = v
		changed = append(changed, k)
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	sort.Strings(changed)

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func([]string), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(changed)
	}
	return nil
}

// Subscribe registers fn for change notifications. Listeners run on the
// goroutine that called Update.
func (s *Store) Subscribe(fn func(changed []string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
