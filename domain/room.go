package domain

import "fmt"

type RoomID int64

// Room is a named set of users who receive each other's messages.
// Members holds the durable membership as known at load time.
type Room struct {
	ID      RoomID
	Name    string
	Members []UserID
}

// RoomSummary is the per-room view a client receives in its snapshot.
type RoomSummary struct {
	RoomID RoomID
	Title  string
	Users  []UserID
}

// PairKey identifies a private room by its two members, independent of
// argument order. At most one room may exist per key.
type PairKey struct {
	Low  UserID
	High UserID
}

func NewPairKey(a, b UserID) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%d:%d", k.Low, k.High)
}
