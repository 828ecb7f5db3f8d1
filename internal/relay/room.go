package relay

import "time"

// Room is one relay room. Members are kept in join order.
type Room struct {
	ID        string
	Locked    bool
	Recording bool
	MaxPeers  int
	CreatedAt time.Time

	members []*Client
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) full() bool {
	return len(r.members) >= r.MaxPeers
}

func (r *Room) member(id string) *Client {
	for _, m := range r.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// entered lists members other than c that have sent enter.
func (r *Room) entered(c *Client) []*Client {
	var out []*Client
	for _, m := range r.members {
		if m != c && m.entered {
			out = append(out, m)
		}
	}
	return out
}
