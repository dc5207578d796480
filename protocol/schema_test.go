package protocol

import (
	"encoding/json"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

func TestDecodeAction_Variants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Action
	}{
		{
			"register",
			`{"command":"REGISTER","username":"alice","password":"pw"}`,
			&RegisterAction{Command: CommandRegister, Username: "alice", Password: "pw"},
		},
		{
			"authorize",
			`{"command":"AUTHORIZE","username":"bob","password":"secret"}`,
			&AuthorizeAction{Command: CommandAuthorize, Username: "bob", Password: "secret"},
		},
		{
			"join server",
			`{"command":"JOIN_SERVER","token":"tok"}`,
			&JoinServerAction{Command: CommandJoinServer, Token: "tok"},
		},
		{
			"join chat with message",
			`{"command":"JOIN_CHAT","token":"tok","room":3,"message":"hi"}`,
			&JoinChatAction{Command: CommandJoinChat, Token: "tok", Room: 3, Message: lo.ToPtr("hi")},
		},
		{
			"join user without message",
			`{"command":"JOIN_USER","token":"tok","user_id":2}`,
			&JoinUserAction{Command: CommandJoinUser, Token: "tok", UserID: 2},
		},
		{
			"send",
			`{"command":"SEND","token":"tok","room":1,"message":"hello"}`,
			&SendAction{Command: CommandSend, Token: "tok", Room: 1, Message: "hello"},
		},
		{
			"leave",
			`{"command":"LEAVE","token":"tok","room":1}`,
			&LeaveAction{Command: CommandLeave, Token: "tok", Room: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAction([]byte(tt.payload))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeAction_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `not json at all`, apperrors.ErrMalformedAction},
		{"unknown command", `{"command":"DANCE"}`, apperrors.ErrUnknownCommand},
		{"missing token", `{"command":"SEND","room":1,"message":"hi"}`, apperrors.ErrMalformedAction},
		{"missing message", `{"command":"SEND","token":"tok","room":1}`, apperrors.ErrMalformedAction},
		{"mistyped room", `{"command":"SEND","token":"tok","room":"first","message":"hi"}`, apperrors.ErrMalformedAction},
		{"missing password", `{"command":"REGISTER","username":"alice"}`, apperrors.ErrMalformedAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAction([]byte(tt.payload))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeMessage_RoundTrip(t *testing.T) {
	update, err := NewUpdateMessage(UpdateUserOnline, "alice", UserInfo{ID: 1, Username: "alice"})
	require.NoError(t, err)

	messages := []any{
		&TokenMessage{Type: TypeToken, Content: "tok"},
		&InitMessage{
			Type:        TypeInit,
			Content:     "init",
			SelfUser:    UserInfo{ID: 1, Username: "alice"},
			AllUsers:    []UserInfo{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
			OnlineUsers: []UserInfo{{ID: 1, Username: "alice"}},
			Rooms:       []RoomInfo{{RoomID: 1, Title: "Chat: alice <-> bob", Users: []int64{1, 2}}},
		},
		&update,
		&ChatMessage{Type: TypeMessage, Content: "привет", From: 1, FromUsername: "alice", RoomID: 1, Time: 1700000000},
		&JoinChatMessage{
			Type:    TypeJoinChat,
			RoomID:  1,
			Content: "history",
			Messages: []ChatMessage{
				{Type: TypeMessage, Content: "first", From: 1, FromUsername: "alice", RoomID: 1, Time: 1700000000},
			},
		},
		&ErrorMessage{Type: TypeError, Content: "room not found"},
	}

	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		require.NoError(t, err)

		decoded, err := DecodeMessage(payload)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func TestDecodeMessage_UnknownType(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"telegram"}`))
	require.ErrorIs(t, err, apperrors.ErrUnknownMessageType)
}
