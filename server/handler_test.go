package server

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/IvanOplesnin/TCPLocalChat/auth"
	"github.com/IvanOplesnin/TCPLocalChat/domain"
	"github.com/IvanOplesnin/TCPLocalChat/mocks"
	"github.com/IvanOplesnin/TCPLocalChat/moderation"
	"github.com/IvanOplesnin/TCPLocalChat/protocol"
	"github.com/IvanOplesnin/TCPLocalChat/repositories"
)

type handlerRepos struct {
	users    *mocks.MockIUserRepository
	rooms    *mocks.MockIRoomRepository
	messages *mocks.MockIMessageRepository
}

func testDeps(t *testing.T, ctrl *gomock.Controller) (Deps, handlerRepos) {
	t.Helper()
	moderator, err := moderation.NewModerator([]string{"badword"}, '*')
	require.NoError(t, err)

	repos := handlerRepos{
		users:    mocks.NewMockIUserRepository(ctrl),
		rooms:    mocks.NewMockIRoomRepository(ctrl),
		messages: mocks.NewMockIMessageRepository(ctrl),
	}
	registry := NewRegistry()
	log := slog.Default()
	deps := Deps{
		Registry:   registry,
		Router:     NewRouter(repos.rooms, registry, log),
		Users:      repos.users,
		Rooms:      repos.rooms,
		Messages:   repos.messages,
		Tokens:     auth.NewTokenService([]byte("test-secret"), time.Hour),
		Moderator:  &moderator,
		Log:        log,
		SinkBuffer: 16,
	}
	return deps, repos
}

type testClient struct {
	conn    net.Conn
	writer  *protocol.FrameWriter
	decoder *protocol.FrameDecoder
}

func dialHandler(t *testing.T, deps Deps) *testClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	handler := NewHandler(deps, serverConn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = clientConn.Close()
		cancel()
		<-done
	})

	return &testClient{
		conn:    clientConn,
		writer:  protocol.NewFrameWriter(clientConn),
		decoder: protocol.NewFrameDecoder(clientConn),
	}
}

func (c *testClient) send(t *testing.T, action map[string]any) {
	t.Helper()
	require.NoError(t, c.writer.WriteEnvelope(action))
}

func (c *testClient) read(t *testing.T) any {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	payload, err := c.decoder.Next()
	require.NoError(t, err)
	message, err := protocol.DecodeMessage(payload)
	require.NoError(t, err)
	return message
}

func Test_Handler_Register_Flow(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	deps, repos := testDeps(t, ctrl)
	alice := domain.User{ID: 1, Username: "alice", PasswordHash: "x"}

	repos.users.EXPECT().
		CreateUser("alice", gomock.Any()).
		Return(alice, nil)
	repos.users.EXPECT().ListUsers().Return([]domain.User{alice}, nil)
	repos.rooms.EXPECT().ListRoomsForUser(alice.ID).Return(nil, nil)

	client := dialHandler(t, deps)
	client.send(t, map[string]any{"command": "REGISTER", "username": "alice", "password": "pw"})

	token, ok := client.read(t).(*protocol.TokenMessage)
	req.True(ok)
	claims, err := deps.Tokens.Verify(token.Content)
	req.NoError(err)
	req.Equal(int64(1), claims.UserID)
	req.Equal("alice", claims.Username)

	init, ok := client.read(t).(*protocol.InitMessage)
	req.True(ok)
	req.Equal(protocol.UserInfo{ID: 1, Username: "alice"}, init.SelfUser)
	req.Len(init.AllUsers, 1)
	req.Len(init.OnlineUsers, 1)
	req.Empty(init.Rooms)

	online, ok := client.read(t).(*protocol.UpdateMessage)
	req.True(ok)
	req.Equal(protocol.UpdateUserOnline, online.Kind)
	req.JSONEq(`{"id":1,"username":"alice"}`, string(online.Payload))
}

func Test_Handler_Schema_Error_Keeps_Connection_Open(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	deps, repos := testDeps(t, ctrl)
	bob := domain.User{ID: 2, Username: "bob", PasswordHash: "x"}

	client := dialHandler(t, deps)
	client.send(t, map[string]any{"command": "NOPE"})

	errMsg, ok := client.read(t).(*protocol.ErrorMessage)
	req.True(ok)
	req.Contains(errMsg.Content, "unknown command")

	// the connection survives and serves the next action
	repos.users.EXPECT().CreateUser("bob", gomock.Any()).Return(bob, nil)
	repos.users.EXPECT().ListUsers().Return([]domain.User{bob}, nil)
	repos.rooms.EXPECT().ListRoomsForUser(bob.ID).Return(nil, nil)

	client.send(t, map[string]any{"command": "REGISTER", "username": "bob", "password": "pw"})
	_, ok = client.read(t).(*protocol.TokenMessage)
	req.True(ok)
}

func Test_Handler_Send_Moderates_And_Broadcasts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	deps, repos := testDeps(t, ctrl)
	alice := domain.User{ID: 1, Username: "alice", PasswordHash: "x"}
	token, err := deps.Tokens.Issue(alice.ID, alice.Username)
	req.NoError(err)

	repos.users.EXPECT().GetUserByID(alice.ID).Return(alice, nil)
	repos.rooms.EXPECT().
		ListMembers(domain.RoomID(5)).
		Return([]domain.UserID{1}, nil)
	repos.messages.EXPECT().
		StoreMessage(gomock.Any()).
		DoAndReturn(func(dm repositories.DiskMessage) error {
			require.Equal(t, "*******", dm.Content)
			return nil
		})

	client := dialHandler(t, deps)
	client.send(t, map[string]any{"command": "SEND", "token": token, "room": 5, "message": "badword"})

	online, ok := client.read(t).(*protocol.UpdateMessage)
	req.True(ok)
	req.Equal(protocol.UpdateUserOnline, online.Kind)

	broadcast, ok := client.read(t).(*protocol.ChatMessage)
	req.True(ok)
	req.Equal("*******", broadcast.Content)
	req.Equal(int64(1), broadcast.From)
	req.Equal("alice", broadcast.FromUsername)
	req.Equal(int64(5), broadcast.RoomID)

	update, ok := client.read(t).(*protocol.UpdateMessage)
	req.True(ok)
	req.Equal(protocol.UpdateNewMessage, update.Kind)
}

func Test_Handler_Send_Rejected_For_Non_Member(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	deps, repos := testDeps(t, ctrl)
	alice := domain.User{ID: 1, Username: "alice", PasswordHash: "x"}
	token, err := deps.Tokens.Issue(alice.ID, alice.Username)
	req.NoError(err)

	repos.users.EXPECT().GetUserByID(alice.ID).Return(alice, nil)
	repos.rooms.EXPECT().
		ListMembers(domain.RoomID(5)).
		Return([]domain.UserID{2}, nil)
	repos.rooms.EXPECT().
		GetRoom(domain.RoomID(5)).
		Return(domain.Room{ID: 5, Name: "general"}, nil)

	client := dialHandler(t, deps)
	client.send(t, map[string]any{"command": "SEND", "token": token, "room": 5, "message": "hi"})

	online, ok := client.read(t).(*protocol.UpdateMessage)
	req.True(ok)
	req.Equal(protocol.UpdateUserOnline, online.Kind)

	errMsg, ok := client.read(t).(*protocol.ErrorMessage)
	req.True(ok)
	req.Contains(errMsg.Content, "not a member")
}

func Test_Handler_Rejects_Forged_Token(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	deps, _ := testDeps(t, ctrl)
	forged, err := auth.NewTokenService([]byte("other-secret"), time.Hour).Issue(1, "alice")
	req.NoError(err)

	client := dialHandler(t, deps)
	client.send(t, map[string]any{"command": "JOIN_SERVER", "token": forged})

	errMsg, ok := client.read(t).(*protocol.ErrorMessage)
	req.True(ok)
	req.Contains(errMsg.Content, "signature")
}
