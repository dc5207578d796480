package repositories

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanOplesnin/TCPLocalChat/domain"
	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

func Test_Create_And_Fetch_Group_Room(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	created, err := repository.CreateGroupRoom("general", 1, 2, 3)
	req.NoError(err)
	req.Equal(domain.RoomID(1), created.ID)

	fetched, err := repository.GetRoom(created.ID)
	req.NoError(err)
	req.Equal("general", fetched.Name)
	req.ElementsMatch([]domain.UserID{1, 2, 3}, fetched.Members)
}

func Test_Fetch_Unknown_Room(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	_, err = repository.GetRoom(99)
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}

func Test_Ensure_Private_Room_Idempotent(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	pair := domain.NewPairKey(7, 3)
	first, created, err := repository.EnsurePrivateRoom(pair, "Chat: alice <-> bob")
	req.NoError(err)
	req.True(created)
	req.ElementsMatch([]domain.UserID{3, 7}, first.Members)

	second, created, err := repository.EnsurePrivateRoom(domain.NewPairKey(3, 7), "Chat: alice <-> bob")
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)
}

func Test_Ensure_Private_Room_Concurrent(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	pair := domain.NewPairKey(1, 2)
	const callers = 8
	roomIDs := make([]domain.RoomID, callers)
	createdFlags := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, created, err := repository.EnsurePrivateRoom(pair, "Chat: alice <-> bob")
			require.NoError(t, err)
			roomIDs[i] = room.ID
			createdFlags[i] = created
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := 1; i < callers; i++ {
		req.Equal(roomIDs[0], roomIDs[i])
	}
	for _, created := range createdFlags {
		if created {
			creations++
		}
	}
	req.Equal(1, creations)
}

func Test_Membership_Lifecycle(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	room, err := repository.CreateGroupRoom("general", 1)
	req.NoError(err)

	req.NoError(repository.AddMembership(room.ID, 2))
	req.NoError(repository.AddMembership(room.ID, 2)) // idempotent

	members, err := repository.ListMembers(room.ID)
	req.NoError(err)
	req.ElementsMatch([]domain.UserID{1, 2}, members)

	req.NoError(repository.RemoveMembership(room.ID, 2))
	req.NoError(repository.RemoveMembership(room.ID, 2)) // no-op when absent

	members, err = repository.ListMembers(room.ID)
	req.NoError(err)
	req.ElementsMatch([]domain.UserID{1}, members)
}

func Test_List_Rooms_For_User(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, err := NewRoomRepository(db)
	req.NoError(err)
	defer repository.Close()

	general, err := repository.CreateGroupRoom("general", 1, 2)
	req.NoError(err)
	_, err = repository.CreateGroupRoom("ops", 2, 3)
	req.NoError(err)
	private, _, err := repository.EnsurePrivateRoom(domain.NewPairKey(1, 3), "Chat: alice <-> clara")
	req.NoError(err)

	summaries, err := repository.ListRoomsForUser(1)
	req.NoError(err)
	req.Len(summaries, 2)

	byID := map[domain.RoomID]domain.RoomSummary{}
	for _, summary := range summaries {
		byID[summary.RoomID] = summary
	}
	req.ElementsMatch([]domain.UserID{1, 2}, byID[general.ID].Users)
	req.Equal("Chat: alice <-> clara", byID[private.ID].Title)
	req.ElementsMatch([]domain.UserID{1, 3}, byID[private.ID].Users)
}
