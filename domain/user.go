// Package domain contains the core concepts of the chat system.
// No runtime, network, or storage logic should be added here.
package domain

type UserID int64

// User is a registered identity. The id and username never change after
// registration; the password hash is opaque to everything but the auth layer.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
}
