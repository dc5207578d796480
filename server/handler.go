package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/IvanOplesnin/TCPLocalChat/auth"
	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
	"github.com/IvanOplesnin/TCPLocalChat/moderation"
	"github.com/IvanOplesnin/TCPLocalChat/protocol"
	"github.com/IvanOplesnin/TCPLocalChat/repositories"
)

// Deps bundles everything a connection handler needs. One Deps value is
// shared by all connections of a server.
type Deps struct {
	Registry    *Registry
	Router      *Router
	Users       repositories.IUserRepository
	Rooms       repositories.IRoomRepository
	Messages    repositories.IMessageRepository
	Tokens      auth.ITokenService
	Moderator   *moderation.Moderator
	Log         *slog.Logger
	SinkBuffer  int
	IdleTimeout time.Duration
}

// Handler drives one client connection: a read loop decoding framed
// actions and a write pump draining the connection's sink.
type Handler struct {
	deps   Deps
	conn   net.Conn
	writer *protocol.FrameWriter
	sink   *Sink
	user   *domain.User
	log    *slog.Logger
}

func NewHandler(deps Deps, conn net.Conn) *Handler {
	return &Handler{
		deps:   deps,
		conn:   conn,
		writer: protocol.NewFrameWriter(conn),
		sink:   NewSink(deps.SinkBuffer),
		log:    deps.Log.With(slog.String("remote", conn.RemoteAddr().String())),
	}
}

// Run serves the connection until the stream closes, the context is
// cancelled or the idle deadline fires.
func (h *Handler) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = h.conn.Close() })
	defer stop()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.writePump()
	}()

	h.readLoop()

	h.sink.Close()
	<-pumpDone
	_ = h.conn.Close()

	if h.user != nil && h.deps.Registry.UnbindIfCurrent(h.user.ID, h.sink) {
		h.announcePresence(protocol.UpdateUserOffline, *h.user)
		h.log.Info("user disconnected", slog.Int64("user_id", int64(h.user.ID)))
	}
}

func (h *Handler) readLoop() {
	decoder := protocol.NewFrameDecoder(h.conn)
	for {
		if h.deps.IdleTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.deps.IdleTimeout))
		}
		payload, err := decoder.Next()
		if err != nil {
			if err != io.EOF {
				h.log.Debug("read loop ended", slog.Any("error", err))
			}
			return
		}

		action, err := protocol.DecodeAction(payload)
		if err != nil {
			h.send(protocol.NewErrorMessage(err))
			continue
		}
		if err := h.dispatch(action); err != nil {
			h.log.Debug("action rejected",
				slog.String("command", string(action.ActionCommand())),
				slog.Any("error", err))
			h.send(protocol.NewErrorMessage(err))
		}
	}
}

// writePump is the single writer of the connection. On Close it drains
// what is already queued, then exits.
func (h *Handler) writePump() {
	for {
		select {
		case envelope := <-h.sink.Queue():
			if err := h.writer.WriteEnvelope(envelope); err != nil {
				h.log.Debug("write failed", slog.Any("error", err))
				_ = h.conn.Close()
				return
			}
		case <-h.sink.Done():
			for {
				select {
				case envelope := <-h.sink.Queue():
					if err := h.writer.WriteEnvelope(envelope); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) dispatch(action protocol.Action) error {
	if tokened, ok := action.(protocol.Tokened); ok {
		if err := h.authenticate(tokened.BearerToken()); err != nil {
			return err
		}
	}

	switch a := action.(type) {
	case *protocol.RegisterAction:
		return h.register(a)
	case *protocol.AuthorizeAction:
		return h.authorize(a)
	case *protocol.JoinServerAction:
		return h.joinServer()
	case *protocol.JoinChatAction:
		return h.joinChat(a)
	case *protocol.JoinUserAction:
		return h.joinUser(a)
	case *protocol.SendAction:
		return h.sendToRoom(a)
	case *protocol.LeaveAction:
		return h.leave(a)
	default:
		return fmt.Errorf("unhandled action %T", action)
	}
}

// authenticate binds the connection to the token's user on first use.
// A connection already bound to the same user is left alone, so presence
// is announced exactly once per authentication.
func (h *Handler) authenticate(token string) error {
	claims, err := h.deps.Tokens.Verify(token)
	if err != nil {
		return err
	}
	if h.user != nil && h.user.ID == domain.UserID(claims.UserID) {
		return nil
	}
	user, err := h.deps.Users.GetUserByID(domain.UserID(claims.UserID))
	if err != nil {
		return err
	}
	h.bind(user)
	h.announcePresence(protocol.UpdateUserOnline, user)
	return nil
}

func (h *Handler) register(a *protocol.RegisterAction) error {
	if err := auth.ValidateCredentials(a.Username, a.Password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(a.Password)
	if err != nil {
		return err
	}
	user, err := h.deps.Users.CreateUser(a.Username, hash)
	if err != nil {
		return err
	}
	h.log.Info("user registered", slog.Int64("user_id", int64(user.ID)), slog.String("username", user.Username))
	return h.establishSession(user, true)
}

func (h *Handler) authorize(a *protocol.AuthorizeAction) error {
	user, err := h.deps.Users.GetUserByUsername(a.Username)
	if err != nil {
		return err
	}
	ok, err := auth.ComparePassword(a.Password, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrInvalidCredentials
	}
	return h.establishSession(user, false)
}

func (h *Handler) joinServer() error {
	// authenticate already bound the session; hand out a fresh token and
	// the current snapshot.
	token, err := h.deps.Tokens.Issue(h.user.ID, h.user.Username)
	if err != nil {
		return err
	}
	h.send(protocol.NewTokenMessage(token))
	return h.sendInit()
}

// establishSession issues a token, binds the connection and announces
// presence. The self-directed queue order is token, init, user_online.
func (h *Handler) establishSession(user domain.User, withInit bool) error {
	token, err := h.deps.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		return err
	}
	h.send(protocol.NewTokenMessage(token))
	h.bind(user)
	if withInit {
		if err := h.sendInit(); err != nil {
			return err
		}
	}
	h.announcePresence(protocol.UpdateUserOnline, user)
	return nil
}

// bind makes this connection the user's current one. A connection
// switching identities releases the old binding first; a sink displaced
// on another connection is closed so its pump stops.
func (h *Handler) bind(user domain.User) {
	if h.user != nil && h.user.ID != user.ID {
		if h.deps.Registry.UnbindIfCurrent(h.user.ID, h.sink) {
			h.announcePresence(protocol.UpdateUserOffline, *h.user)
		}
	}
	h.user = &user
	if prev := h.deps.Registry.Bind(user.ID, h.sink); prev != nil {
		prev.Close()
	}
}

func (h *Handler) sendInit() error {
	users, err := h.deps.Users.ListUsers()
	if err != nil {
		return err
	}
	rooms, err := h.deps.Rooms.ListRoomsForUser(h.user.ID)
	if err != nil {
		return err
	}

	byID := lo.KeyBy(users, func(u domain.User) domain.UserID { return u.ID })
	online := make([]protocol.UserInfo, 0)
	for _, id := range h.deps.Registry.SnapshotOnlineIDs() {
		if u, ok := byID[id]; ok {
			online = append(online, userInfo(u))
		}
	}

	h.send(protocol.InitMessage{
		Type:     protocol.TypeInit,
		Content:  fmt.Sprintf("welcome, %s", h.user.Username),
		SelfUser: userInfo(*h.user),
		AllUsers: lo.Map(users, func(u domain.User, _ int) protocol.UserInfo {
			return userInfo(u)
		}),
		OnlineUsers: online,
		Rooms: lo.Map(rooms, func(r domain.RoomSummary, _ int) protocol.RoomInfo {
			return roomInfo(r)
		}),
	})
	return nil
}

func (h *Handler) joinChat(a *protocol.JoinChatAction) error {
	room, err := h.deps.Rooms.GetRoom(domain.RoomID(a.Room))
	if err != nil {
		return err
	}
	if err := h.deps.Router.EnsureLoaded(room.ID); err != nil {
		return err
	}
	if !h.deps.Router.IsMember(room.ID, h.user.ID) {
		if err := h.deps.Rooms.AddMembership(room.ID, h.user.ID); err != nil {
			return err
		}
		h.deps.Router.AddMember(room.ID, h.user.ID)
	}
	if a.Message != nil {
		if err := h.postMessage(room.ID, *a.Message); err != nil {
			return err
		}
	}
	return h.sendHistory(room)
}

func (h *Handler) joinUser(a *protocol.JoinUserAction) error {
	target, err := h.deps.Users.GetUserByID(domain.UserID(a.UserID))
	if err != nil {
		return err
	}

	pair := domain.NewPairKey(h.user.ID, target.ID)
	name := fmt.Sprintf("Chat: %s <-> %s", h.user.Username, target.Username)
	room, err := h.deps.Router.EnsurePrivateRoom(pair, name, func(created domain.Room) {
		h.announceRoom(created)
	})
	if err != nil {
		return err
	}

	greeting := fmt.Sprintf("%s хочет с вами поболтать\n", h.user.Username)
	if a.Message != nil {
		greeting += *a.Message + "\n"
	}
	if err := h.postMessage(room.ID, greeting); err != nil {
		return err
	}

	room, err = h.deps.Rooms.GetRoom(room.ID)
	if err != nil {
		return err
	}
	// both sides get the room history so either client can open the chat
	history, err := h.historyEnvelope(room)
	if err != nil {
		return err
	}
	h.deps.Router.Broadcast(room.ID, history)
	return nil
}

func (h *Handler) sendToRoom(a *protocol.SendAction) error {
	roomID := domain.RoomID(a.Room)
	if err := h.deps.Router.EnsureLoaded(roomID); err != nil {
		return err
	}
	if !h.deps.Router.IsMember(roomID, h.user.ID) {
		if _, err := h.deps.Rooms.GetRoom(roomID); err != nil {
			return err
		}
		return fmt.Errorf("%w: room %d", apperrors.ErrNotRoomMember, roomID)
	}
	return h.postMessage(roomID, a.Message)
}

func (h *Handler) leave(a *protocol.LeaveAction) error {
	roomID := domain.RoomID(a.Room)
	if _, err := h.deps.Rooms.GetRoom(roomID); err != nil {
		return err
	}
	if err := h.deps.Rooms.RemoveMembership(roomID, h.user.ID); err != nil {
		return err
	}
	h.deps.Router.RemoveMember(roomID, h.user.ID)
	h.log.Info("user left room",
		slog.Int64("user_id", int64(h.user.ID)),
		slog.Int64("room_id", int64(roomID)))
	return nil
}

// postMessage moderates, persists and only then broadcasts. A message
// that could not be stored is never seen by anyone.
func (h *Handler) postMessage(roomID domain.RoomID, content string) error {
	censored := h.deps.Moderator.Censor(content)
	now := time.Now()

	err := h.deps.Messages.StoreMessage(repositories.DiskMessage{
		ID:         uuid.New(),
		Room:       roomID,
		Author:     h.user.ID,
		AuthorName: h.user.Username,
		Content:    censored,
		At:         now,
	})
	if err != nil {
		return err
	}

	h.deps.Router.Broadcast(roomID, protocol.ChatMessage{
		Type:         protocol.TypeMessage,
		Content:      censored,
		From:         int64(h.user.ID),
		FromUsername: h.user.Username,
		RoomID:       int64(roomID),
		Time:         now.Unix(),
	})
	update, err := protocol.NewUpdateMessage(protocol.UpdateNewMessage, censored, protocol.NewMessagePayload{
		RoomID:       int64(roomID),
		From:         int64(h.user.ID),
		FromUsername: h.user.Username,
		Content:      censored,
		Time:         now.Unix(),
	})
	if err != nil {
		return err
	}
	h.deps.Router.Broadcast(roomID, update)
	return nil
}

func (h *Handler) sendHistory(room domain.Room) error {
	history, err := h.historyEnvelope(room)
	if err != nil {
		return err
	}
	h.send(history)
	return nil
}

func (h *Handler) historyEnvelope(room domain.Room) (protocol.JoinChatMessage, error) {
	history, err := h.deps.Messages.ListMessages(room.ID)
	if err != nil {
		return protocol.JoinChatMessage{}, err
	}
	return protocol.JoinChatMessage{
		Type:    protocol.TypeJoinChat,
		Content: room.Name,
		RoomID:  int64(room.ID),
		Messages: lo.Map(history, func(m repositories.DiskMessage, _ int) protocol.ChatMessage {
			return protocol.ChatMessage{
				Type:         protocol.TypeMessage,
				Content:      m.Content,
				From:         int64(m.Author),
				FromUsername: m.AuthorName,
				RoomID:       int64(m.Room),
				Time:         m.At.Unix(),
			}
		}),
	}, nil
}

func (h *Handler) announcePresence(kind protocol.UpdateKind, user domain.User) {
	verb := "online"
	if kind == protocol.UpdateUserOffline {
		verb = "offline"
	}
	update, err := protocol.NewUpdateMessage(kind, fmt.Sprintf("%s is %s", user.Username, verb), userInfo(user))
	if err != nil {
		h.log.Error("encode presence update", slog.Any("error", err))
		return
	}
	h.deps.Registry.Broadcast(update)
}

func (h *Handler) announceRoom(room domain.Room) {
	update, err := protocol.NewUpdateMessage(protocol.UpdateNewRoom, room.Name, protocol.NewRoomPayload{
		ID:    int64(room.ID),
		Title: room.Name,
		Users: lo.Map(room.Members, func(id domain.UserID, _ int) int64 { return int64(id) }),
	})
	if err != nil {
		h.log.Error("encode room update", slog.Any("error", err))
		return
	}
	h.deps.Router.BroadcastAll(update)
}

// send queues an envelope for this connection. A full queue means the
// client stopped reading, so the connection is dropped.
func (h *Handler) send(envelope any) {
	if !h.sink.Deliver(envelope) {
		h.log.Warn("outbound queue full, closing connection")
		_ = h.conn.Close()
	}
}

func userInfo(u domain.User) protocol.UserInfo {
	return protocol.UserInfo{ID: int64(u.ID), Username: u.Username}
}

func roomInfo(r domain.RoomSummary) protocol.RoomInfo {
	return protocol.RoomInfo{
		RoomID: int64(r.RoomID),
		Title:  r.Title,
		Users:  lo.Map(r.Users, func(id domain.UserID, _ int) int64 { return int64(id) }),
	}
}
