package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/IvanOplesnin/TCPLocalChat/errors"
)

type MessageType string

const (
	TypeToken    MessageType = "token"
	TypeInit     MessageType = "init"
	TypeUpdate   MessageType = "update"
	TypeMessage  MessageType = "message"
	TypeJoinChat MessageType = "join_chat"
	TypeError    MessageType = "error"
)

// UpdateKind tags the payload of an update envelope.
type UpdateKind string

const (
	UpdateUserOnline  UpdateKind = "user_online"
	UpdateUserOffline UpdateKind = "user_offline"
	UpdateNewRoom     UpdateKind = "new_room"
	UpdateNewMessage  UpdateKind = "new_message"
)

type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type RoomInfo struct {
	RoomID int64   `json:"room_id"`
	Title  string  `json:"title"`
	Users  []int64 `json:"users"`
}

// TokenMessage carries a freshly issued bearer token.
type TokenMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

func NewTokenMessage(token string) TokenMessage {
	return TokenMessage{Type: TypeToken, Content: token}
}

// InitMessage is the snapshot a client receives after joining the server:
// its own identity, all known users, who is online, and its rooms.
type InitMessage struct {
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	SelfUser    UserInfo    `json:"self_user"`
	AllUsers    []UserInfo  `json:"all_users"`
	OnlineUsers []UserInfo  `json:"online_users"`
	Rooms       []RoomInfo  `json:"rooms"`
}

// UpdateMessage is a kind-tagged notification; the payload shape depends
// on the kind (NewRoomPayload, NewMessagePayload, UserInfo for presence).
type UpdateMessage struct {
	Type    MessageType     `json:"type"`
	Content string          `json:"content"`
	Kind    UpdateKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func NewUpdateMessage(kind UpdateKind, content string, payload any) (UpdateMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return UpdateMessage{}, err
	}
	return UpdateMessage{Type: TypeUpdate, Content: content, Kind: kind, Payload: raw}, nil
}

type NewRoomPayload struct {
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	Users []int64 `json:"users"`
}

type NewMessagePayload struct {
	RoomID       int64  `json:"room_id"`
	From         int64  `json:"from_"`
	FromUsername string `json:"from_username"`
	Content      string `json:"content"`
	Time         int64  `json:"time_"`
}

// ChatMessage is one chat message as seen on the wire. Time is Unix
// seconds.
type ChatMessage struct {
	Type         MessageType `json:"type"`
	Content      string      `json:"content"`
	From         int64       `json:"from_"`
	FromUsername string      `json:"from_username"`
	RoomID       int64       `json:"room_id"`
	Time         int64       `json:"time_"`
}

// JoinChatMessage answers JOIN_CHAT and JOIN_USER: the room id plus its
// full message history in chronological order.
type JoinChatMessage struct {
	Type     MessageType   `json:"type"`
	Content  string        `json:"content"`
	RoomID   int64         `json:"room_id"`
	Messages []ChatMessage `json:"messages"`
}

// ErrorMessage reports a rejected action back to the caller.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

func NewErrorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: TypeError, Content: err.Error()}
}

// DecodeMessage discriminates a server envelope by its type tag. The
// server only encodes; this is the client-side half, also used by tests
// to assert round trips.
func DecodeMessage(payload []byte) (any, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnknownMessageType, err)
	}

	decode := func(v any) (any, error) {
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrUnknownMessageType, err)
		}
		return v, nil
	}

	switch head.Type {
	case TypeToken:
		return decode(&TokenMessage{})
	case TypeInit:
		return decode(&InitMessage{})
	case TypeUpdate:
		return decode(&UpdateMessage{})
	case TypeMessage:
		return decode(&ChatMessage{})
	case TypeJoinChat:
		return decode(&JoinChatMessage{})
	case TypeError:
		return decode(&ErrorMessage{})
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownMessageType, head.Type)
	}
}
