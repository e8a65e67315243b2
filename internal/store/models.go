package store

import "time"

type User struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Filter narrows FindProjected. Empty fields match everything.
type Filter struct {
	GroupID string
}

// VersionRef points at one document of a group.
type VersionRef struct {
	ID      string
	Version int
}
