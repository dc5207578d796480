//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

type IRoomRepository interface {
	CreateGroupRoom(name string, members ...domain.UserID) (domain.Room, error)
	GetRoom(id domain.RoomID) (domain.Room, error)
	// EnsurePrivateRoom returns the private room for the canonical pair,
	// creating it (with both memberships) when absent. The second result
	// reports whether this call created the room.
	EnsurePrivateRoom(pair domain.PairKey, name string) (domain.Room, bool, error)
	AddMembership(roomID domain.RoomID, userID domain.UserID) error
	RemoveMembership(roomID domain.RoomID, userID domain.UserID) error
	ListMembers(roomID domain.RoomID) ([]domain.UserID, error)
	ListRoomsForUser(userID domain.UserID) ([]domain.RoomSummary, error)
}

type RoomRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewRoomRepository(db *badger.DB) (*RoomRepository, error) {
	seq, err := db.GetSequence([]byte("seq:room"), 64)
	if err != nil {
		return nil, fmt.Errorf("room id sequence: %w", err)
	}
	return &RoomRepository{db: db, seq: seq}, nil
}

func (r *RoomRepository) Close() error {
	return r.seq.Release()
}

type roomRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func roomKey(id domain.RoomID) []byte {
	return fmt.Appendf(nil, "room:%d", id)
}

func memberKey(roomID domain.RoomID, userID domain.UserID) []byte {
	return fmt.Appendf(nil, "member:%d:%d", roomID, userID)
}

func memberPrefix(roomID domain.RoomID) []byte {
	return fmt.Appendf(nil, "member:%d:", roomID)
}

func roomsOfKey(userID domain.UserID, roomID domain.RoomID) []byte {
	return fmt.Appendf(nil, "rooms_of:%d:%d", userID, roomID)
}

func roomsOfPrefix(userID domain.UserID) []byte {
	return fmt.Appendf(nil, "rooms_of:%d:", userID)
}

func pairKey(pair domain.PairKey) []byte {
	return []byte("pair:" + pair.String())
}

// CreateGroupRoom persists a room with an arbitrary initial member set in
// one transaction.
func (r *RoomRepository) CreateGroupRoom(name string, members ...domain.UserID) (domain.Room, error) {
	id, data, err := r.nextRoomRecord(name)
	if err != nil {
		return domain.Room{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(roomKey(id), data); err != nil {
			return err
		}
		return setMemberships(txn, id, members)
	})
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{ID: id, Name: name, Members: members}, nil
}

// GetRoom loads a room record together with its durable member set.
func (r *RoomRepository) GetRoom(id domain.RoomID) (domain.Room, error) {
	var record roomRecord
	var members []domain.UserID
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return err
		}
		members, err = readMembers(txn, id)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return domain.Room{}, fmt.Errorf("%w: id %d", apperrors.ErrRoomNotFound, id)
	}
	if err != nil {
		return domain.Room{}, err
	}
	return domain.Room{ID: domain.RoomID(record.ID), Name: record.Name, Members: members}, nil
}

// EnsurePrivateRoom performs lookup-or-create for the canonical pair in a
// single transaction and retries on write conflict, so two concurrent
// requests for the same pair always converge on one room.
func (r *RoomRepository) EnsurePrivateRoom(pair domain.PairKey, name string) (domain.Room, bool, error) {
	members := []domain.UserID{pair.Low, pair.High}
	if pair.Low == pair.High {
		members = members[:1]
	}

	for {
		id, data, err := r.nextRoomRecord(name)
		if err != nil {
			return domain.Room{}, false, err
		}

		var existing domain.RoomID
		created := false
		err = r.db.Update(func(txn *badger.Txn) error {
			existing, created = 0, false
			item, err := txn.Get(pairKey(pair))
			if err == nil {
				return item.Value(func(val []byte) error {
					roomID, err := strconv.ParseInt(string(val), 10, 64)
					existing = domain.RoomID(roomID)
					return err
				})
			}
			if err != badger.ErrKeyNotFound {
				return err
			}

			created = true
			if err := txn.Set(pairKey(pair), []byte(strconv.FormatInt(int64(id), 10))); err != nil {
				return err
			}
			if err := txn.Set(roomKey(id), data); err != nil {
				return err
			}
			return setMemberships(txn, id, members)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return domain.Room{}, false, err
		}
		if !created {
			room, err := r.GetRoom(existing)
			return room, false, err
		}
		return domain.Room{ID: id, Name: name, Members: members}, true, nil
	}
}

// AddMembership records that the user belongs to the room. Idempotent.
func (r *RoomRepository) AddMembership(roomID domain.RoomID, userID domain.UserID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return setMemberships(txn, roomID, []domain.UserID{userID})
	})
}

// RemoveMembership deletes the membership and its reverse index. Removing
// a membership that does not exist is a no-op.
func (r *RoomRepository) RemoveMembership(roomID domain.RoomID, userID domain.UserID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(memberKey(roomID, userID)); err != nil {
			return err
		}
		return txn.Delete(roomsOfKey(userID, roomID))
	})
}

func (r *RoomRepository) ListMembers(roomID domain.RoomID) ([]domain.UserID, error) {
	var members []domain.UserID
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		members, err = readMembers(txn, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ListRoomsForUser resolves the reverse index into room summaries with
// their member sets, the shape the init snapshot needs.
func (r *RoomRepository) ListRoomsForUser(userID domain.UserID) ([]domain.RoomSummary, error) {
	var summaries []domain.RoomSummary
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := roomsOfPrefix(userID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			roomID, err := strconv.ParseInt(string(it.Item().Key()[len(prefix):]), 10, 64)
			if err != nil {
				return err
			}

			item, err := txn.Get(roomKey(domain.RoomID(roomID)))
			if err != nil {
				return err
			}
			var record roomRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			members, err := readMembers(txn, domain.RoomID(roomID))
			if err != nil {
				return err
			}
			summaries = append(summaries, domain.RoomSummary{
				RoomID: domain.RoomID(record.ID),
				Title:  record.Name,
				Users:  members,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *RoomRepository) nextRoomRecord(name string) (domain.RoomID, []byte, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, nil, err
	}
	id := domain.RoomID(next + 1)
	data, err := json.Marshal(roomRecord{ID: int64(id), Name: name})
	if err != nil {
		return 0, nil, err
	}
	return id, data, nil
}

func setMemberships(txn *badger.Txn, roomID domain.RoomID, members []domain.UserID) error {
	for _, userID := range members {
		if err := txn.Set(memberKey(roomID, userID), nil); err != nil {
			return err
		}
		if err := txn.Set(roomsOfKey(userID, roomID), nil); err != nil {
			return err
		}
	}
	return nil
}

func readMembers(txn *badger.Txn, roomID domain.RoomID) ([]domain.UserID, error) {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	prefix := memberPrefix(roomID)
	var members []domain.UserID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		userID, err := strconv.ParseInt(string(it.Item().Key()[len(prefix):]), 10, 64)
		if err != nil {
			return nil, err
		}
		members = append(members, domain.UserID(userID))
	}
	return members, nil
}
