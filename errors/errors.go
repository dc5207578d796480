package errors

import "fmt"

var (
	ErrUnterminatedFrame  = fmt.Errorf("stream closed with an unterminated frame")
	ErrUnknownCommand     = fmt.Errorf("unknown command")
	ErrMalformedAction    = fmt.Errorf("malformed action")
	ErrUnknownMessageType = fmt.Errorf("unknown message type")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrRoomNotFound       = fmt.Errorf("room not found")
	ErrNotRoomMember      = fmt.Errorf("not a member of the room")
	ErrTokenMalformed     = fmt.Errorf("token malformed")
	ErrTokenExpired       = fmt.Errorf("token expired")
	ErrTokenSignature     = fmt.Errorf("token signature invalid")
	ErrPersistence        = fmt.Errorf("persistence failure")
)
