package types

import (
	"time"
)

// User is the public view of a connected, joined user as carried in
// membership snapshots.
type User struct {
	ConnectionId string    `json:"connection_id"`
	Username     string    `json:"username"`
	Room         string    `json:"room"`
	IsAdmin      bool      `json:"is_admin"`
	JoinedAt     time.Time `json:"joined_at"`
}

type RoomUsers struct {
	Room  string `json:"room"`
	Users []User `json:"users"`
}
