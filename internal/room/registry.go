package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/value"
)

// Media is a peer's media capability snapshot.
type Media = signaling.MediaProperties

// Peer is one remote room member.
type Peer struct {
	ID       string
	UserInfo value.Value
	Media    Media
	JoinedAt time.Time
}

// Registry is the table of admitted peers, kept in arrival order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	peers map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

func (r *Registry) Add(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID]; ok {
		return fmt.Errorf("add %s: %w", p.ID, ErrDuplicatePeer)
	}
	r.peers[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Update replaces the stored record for p.ID.
func (r *Registry) Update(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID]; !ok {
		return false
	}
	r.peers[p.ID] = p
	return true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// All returns the peers in insertion order.
func (r *Registry) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
