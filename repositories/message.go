//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	ListMessages(room domain.RoomID) ([]DiskMessage, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type DiskMessage struct {
	ID         uuid.UUID
	Room       domain.RoomID
	Author     domain.UserID
	AuthorName string
	Content    string
	At         time.Time
}

type messageRecord struct {
	ID         string `json:"id"`
	Room       int64  `json:"room"`
	Author     int64  `json:"author"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	At         int64  `json:"at"`
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m MessageRepository) StoreMessage(message DiskMessage) error {
	key := fmt.Sprintf("msg:%d:%019d:%s",
		message.Room,
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := json.Marshal(fromDiskMessage(message))
	if err != nil {
		return err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// ListMessages retrieves the history of a room in chronological order.
// Thanks to the padded timestamp in the key, a reverse prefix scan yields
// the newest messages first; the scan stops once the configured
// limitMessages is reached and the slice is flipped back before returning.
func (m MessageRepository) ListMessages(room domain.RoomID) ([]DiskMessage, error) {
	var records []messageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := fmt.Appendf(nil, "msg:%d:", room)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for the room, then walk back.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(records) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			var record messageRecord
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	messages, err := listToDiskMessages(records)
	if err != nil {
		return nil, err
	}
	return lo.Reverse(messages), nil
}

func fromDiskMessage(message DiskMessage) messageRecord {
	return messageRecord{
		ID:         message.ID.String(),
		Room:       int64(message.Room),
		Author:     int64(message.Author),
		AuthorName: message.AuthorName,
		Content:    message.Content,
		At:         message.At.UnixNano(),
	}
}

func toDiskMessage(record messageRecord) (DiskMessage, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return DiskMessage{}, err
	}
	return DiskMessage{
		ID:         id,
		Room:       domain.RoomID(record.Room),
		Author:     domain.UserID(record.Author),
		AuthorName: record.AuthorName,
		Content:    record.Content,
		At:         time.Unix(0, record.At),
	}, nil
}

func listToDiskMessages(records []messageRecord) ([]DiskMessage, error) {
	messages := make([]DiskMessage, 0, len(records))
	for _, record := range records {
		message, err := toDiskMessage(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}
