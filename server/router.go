package server

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	"github.com/IvanOplesnin/TCPLocalChat/repositories"
)

type memberSet map[domain.UserID]struct{}

// Router keeps the runtime member set of every touched room and fans
// envelopes out to the online members. Member sets are seeded lazily from
// durable membership the first time a room is touched.
type Router struct {
	mu       sync.RWMutex
	members  map[domain.RoomID]memberSet
	rooms    repositories.IRoomRepository
	registry *Registry
	group    singleflight.Group
	log      *slog.Logger
}

func NewRouter(rooms repositories.IRoomRepository, registry *Registry, log *slog.Logger) *Router {
	return &Router{
		members:  make(map[domain.RoomID]memberSet),
		rooms:    rooms,
		registry: registry,
		log:      log,
	}
}

// EnsureLoaded seeds the runtime member set from durable membership on
// first touch. Concurrent first touches of the same room collapse into
// one repository read.
func (r *Router) EnsureLoaded(roomID domain.RoomID) error {
	r.mu.RLock()
	_, ok := r.members[roomID]
	r.mu.RUnlock()
	if ok {
		return nil
	}

	_, err, _ := r.group.Do(fmt.Sprintf("load:%d", roomID), func() (any, error) {
		members, err := r.rooms.ListMembers(roomID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if _, ok := r.members[roomID]; !ok {
			r.members[roomID] = newMemberSet(members)
		}
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

func (r *Router) AddMember(roomID domain.RoomID, userID domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[roomID]
	if !ok {
		set = make(memberSet)
		r.members[roomID] = set
	}
	set[userID] = struct{}{}
}

func (r *Router) RemoveMember(roomID domain.RoomID, userID domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[roomID]; ok {
		delete(set, userID)
	}
}

func (r *Router) IsMember(roomID domain.RoomID, userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][userID]
	return ok
}

func (r *Router) MembersOf(roomID domain.RoomID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.members[roomID]
	ids := make([]domain.UserID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers the envelope to every online member of the room.
// Offline members are skipped, full sinks drop the envelope for that
// recipient only.
func (r *Router) Broadcast(roomID domain.RoomID, envelope any) {
	for _, id := range r.MembersOf(roomID) {
		sink, ok := r.registry.Lookup(id)
		if !ok {
			continue
		}
		if !sink.Deliver(envelope) {
			r.log.Warn("dropping envelope for slow consumer",
				slog.Int64("user_id", int64(id)),
				slog.Int64("room_id", int64(roomID)))
		}
	}
}

// BroadcastAll delivers the envelope to every online user.
func (r *Router) BroadcastAll(envelope any) {
	r.registry.Broadcast(envelope)
}

// EnsurePrivateRoom resolves the private room for a canonical pair,
// creating it at most once. Concurrent requests for the same pair
// collapse into one flight, and onCreated runs inside that flight, so
// room creation side effects happen exactly once.
func (r *Router) EnsurePrivateRoom(pair domain.PairKey, name string, onCreated func(domain.Room)) (domain.Room, error) {
	v, err, _ := r.group.Do("pair:"+pair.String(), func() (any, error) {
		room, created, err := r.rooms.EnsurePrivateRoom(pair, name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if _, ok := r.members[room.ID]; !ok {
			r.members[room.ID] = newMemberSet(room.Members)
		}
		r.mu.Unlock()
		if created && onCreated != nil {
			onCreated(room)
		}
		return room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return v.(domain.Room), nil
}

func newMemberSet(members []domain.UserID) memberSet {
	set := make(memberSet, len(members))
	for _, id := range members {
		set[id] = struct{}{}
	}
	return set
}
