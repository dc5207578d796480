package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/IvanOplesnin/TCPLocalChat/errors"
)

type Command string

const (
	CommandRegister   Command = "REGISTER"
	CommandAuthorize  Command = "AUTHORIZE"
	CommandJoinServer Command = "JOIN_SERVER"
	CommandJoinChat   Command = "JOIN_CHAT"
	CommandJoinUser   Command = "JOIN_USER"
	CommandSend       Command = "SEND"
	CommandLeave      Command = "LEAVE"
)

// Action is one validated client request. The set of variants is closed;
// dispatch happens by exhaustive type switch on the concrete type.
type Action interface {
	ActionCommand() Command
}

// Tokened is implemented by every action that carries a bearer token.
type Tokened interface {
	BearerToken() string
}

type RegisterAction struct {
	Command  Command `json:"command"`
	Username string  `json:"username" validate:"required"`
	Password string  `json:"password" validate:"required"`
}

func (a RegisterAction) ActionCommand() Command { return CommandRegister }

type AuthorizeAction struct {
	Command  Command `json:"command"`
	Username string  `json:"username" validate:"required"`
	Password string  `json:"password" validate:"required"`
}

func (a AuthorizeAction) ActionCommand() Command { return CommandAuthorize }

// JoinServerAction re-establishes a session from a stored token.
type JoinServerAction struct {
	Command Command `json:"command"`
	Token   string  `json:"token" validate:"required"`
}

func (a JoinServerAction) ActionCommand() Command { return CommandJoinServer }
func (a JoinServerAction) BearerToken() string    { return a.Token }

// JoinChatAction joins or re-enters a group room and requests its history.
type JoinChatAction struct {
	Command Command `json:"command"`
	Token   string  `json:"token" validate:"required"`
	Room    int64   `json:"room" validate:"required"`
	Message *string `json:"message,omitempty"`
}

func (a JoinChatAction) ActionCommand() Command { return CommandJoinChat }
func (a JoinChatAction) BearerToken() string    { return a.Token }

// JoinUserAction opens or reuses the private room with another user.
type JoinUserAction struct {
	Command Command `json:"command"`
	Token   string  `json:"token" validate:"required"`
	UserID  int64   `json:"user_id" validate:"required"`
	Message *string `json:"message,omitempty"`
}

func (a JoinUserAction) ActionCommand() Command { return CommandJoinUser }
func (a JoinUserAction) BearerToken() string    { return a.Token }

type SendAction struct {
	Command Command `json:"command"`
	Token   string  `json:"token" validate:"required"`
	Room    int64   `json:"room" validate:"required"`
	Message string  `json:"message" validate:"required"`
}

func (a SendAction) ActionCommand() Command { return CommandSend }
func (a SendAction) BearerToken() string    { return a.Token }

type LeaveAction struct {
	Command Command `json:"command"`
	Token   string  `json:"token" validate:"required"`
	Room    int64   `json:"room" validate:"required"`
}

func (a LeaveAction) ActionCommand() Command { return CommandLeave }
func (a LeaveAction) BearerToken() string    { return a.Token }

var validate = validator.New()

// DecodeAction discriminates a raw envelope into exactly one action
// variant and checks its required fields. Unknown commands and missing or
// mistyped fields are schema errors: the action is rejected, the
// connection survives.
func DecodeAction(payload []byte) (Action, error) {
	var head struct {
		Command Command `json:"command"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedAction, err)
	}

	var action Action
	switch head.Command {
	case CommandRegister:
		action = &RegisterAction{}
	case CommandAuthorize:
		action = &AuthorizeAction{}
	case CommandJoinServer:
		action = &JoinServerAction{}
	case CommandJoinChat:
		action = &JoinChatAction{}
	case CommandJoinUser:
		action = &JoinUserAction{}
	case CommandSend:
		action = &SendAction{}
	case CommandLeave:
		action = &LeaveAction{}
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownCommand, head.Command)
	}

	if err := json.Unmarshal(payload, action); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedAction, err)
	}
	if err := validate.Struct(action); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedAction, err)
	}
	return action, nil
}
