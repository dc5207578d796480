package server

import (
	"sync"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
)

// Registry maps authenticated user ids to their connection sinks.
// Binding is last-write-wins: a user reconnecting from a new connection
// displaces the old sink.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.UserID]*Sink
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.UserID]*Sink)}
}

// Bind associates the sink with the user and returns the sink it
// displaced, if any. The caller is expected to close the displaced sink.
func (r *Registry) Bind(id domain.UserID, sink *Sink) *Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.peers[id]
	r.peers[id] = sink
	if prev == sink {
		return nil
	}
	return prev
}

// UnbindIfCurrent removes the binding only when the registry still points
// at the given sink, so a displaced connection tearing down cannot evict
// its successor. Reports whether the binding was removed.
func (r *Registry) UnbindIfCurrent(id domain.UserID, sink *Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[id] != sink {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Lookup(id domain.UserID) (*Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.peers[id]
	return sink, ok
}

// SnapshotOnlineIDs returns the ids of all currently bound users.
func (r *Registry) SnapshotOnlineIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.UserID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers the envelope to every bound sink, best effort.
func (r *Registry) Broadcast(envelope any) {
	r.mu.RLock()
	sinks := make([]*Sink, 0, len(r.peers))
	for _, sink := range r.peers {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		sink.Deliver(envelope)
	}
}
