//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

type IUserRepository interface {
	CreateUser(username, passwordHash string) (domain.User, error)
	GetUserByUsername(username string) (domain.User, error)
	GetUserByID(id domain.UserID) (domain.User, error)
	ListUsers() ([]domain.User, error)
}

type UserRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewUserRepository(db *badger.DB) (*UserRepository, error) {
	seq, err := db.GetSequence([]byte("seq:user"), 64)
	if err != nil {
		return nil, fmt.Errorf("user id sequence: %w", err)
	}
	return &UserRepository{db: db, seq: seq}, nil
}

// Close releases the id sequence lease.
func (u *UserRepository) Close() error {
	return u.seq.Release()
}

type userRecord struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

var userIDPrefix = []byte("user:id:")

func userIDKey(id domain.UserID) []byte {
	return fmt.Appendf(nil, "user:id:%d", id)
}

func usernameKey(username string) []byte {
	return []byte("user:name:" + username)
}

// CreateUser persists a new user under a fresh id. The username index key
/// doubles as the uniqueness guard: index and record are written in one
// transaction, so a duplicate username can never slip through.
func (u *UserRepository) CreateUser(username, passwordHash string) (domain.User, error) {
	next, err := u.seq.Next()
	if err != nil {
		return domain.User{}, err
	}
	id := domain.UserID(next + 1) // sequences start at zero, client-visible ids at one

	data, err := json.Marshal(userRecord{ID: int64(id), Username: username, PasswordHash: passwordHash})
	if err != nil {
		return domain.User{}, err
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(usernameKey(username))
		if err == nil {
			return apperrors.ErrUserAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(usernameKey(username), []byte(strconv.FormatInt(int64(id), 10))); err != nil {
			return err
		}
		return txn.Set(userIDKey(id), data)
	})
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: id, Username: username, PasswordHash: passwordHash}, nil
}

func (u *UserRepository) GetUserByUsername(username string) (domain.User, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if err != nil {
			return err
		}
		var id int64
		if err := item.Value(func(val []byte) error {
			id, err = strconv.ParseInt(string(val), 10, 64)
			return err
		}); err != nil {
			return err
		}
		return readUserRecord(txn, domain.UserID(id), &record)
	})
	if err == badger.ErrKeyNotFound {
		return domain.User{}, fmt.Errorf("%w: username %q", apperrors.ErrUserNotFound, username)
	}
	if err != nil {
		return domain.User{}, err
	}
	return toUser(record), nil
}

func (u *UserRepository) GetUserByID(id domain.UserID) (domain.User, error) {
	var record userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		return readUserRecord(txn, id, &record)
	})
	if err == badger.ErrKeyNotFound {
		return domain.User{}, fmt.Errorf("%w: id %d", apperrors.ErrUserNotFound, id)
	}
	if err != nil {
		return domain.User{}, err
	}
	return toUser(record), nil
}

// ListUsers returns every registered user via a prefix scan over the id
// records.
func (u *UserRepository) ListUsers() ([]domain.User, error) {
	var records []userRecord
	err := u.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(userIDPrefix); it.ValidForPrefix(userIDPrefix); it.Next() {
			var record userRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(records, func(r userRecord, _ int) domain.User {
		return toUser(r)
	}), nil
}

func readUserRecord(txn *badger.Txn, id domain.UserID, record *userRecord) error {
	item, err := txn.Get(userIDKey(id))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, record)
	})
}

func toUser(r userRecord) domain.User {
	return domain.User{ID: domain.UserID(r.ID), Username: r.Username, PasswordHash: r.PasswordHash}
}
