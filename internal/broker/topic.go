package broker

// Topic is one pub/sub channel: the subscribed clients in join order and the
// last retained payload, if any.
type Topic struct {
	Name     string
	Peers    []*Client
	Retained *Retained
}

// Retained is the payload a topic replays to every new subscriber.
type Retained struct {
	From    string
	Payload []byte
}

func (t *Topic) add(c *Client) {
	t.Peers = append(t.Peers, c)
}

func (t *Topic) remove(c *Client) bool {
	for i, p := range t.Peers {
		if p == c {
			t.Peers = append(t.Peers[:i], t.Peers[i+1:]...)
			return true
		}
	}
	return false
}

// others lists the peer ids of everyone in the topic except c.
func (t *Topic) others(c *Client) []string {
	ids := make([]string, 0, len(t.Peers))
	for _, p := range t.Peers {
		if p != c {
			ids = append(ids, p.PeerID)
		}
	}
	return ids
}

func (t *Topic) idle() bool {
	return len(t.Peers) == 0 && t.Retained == nil
}
