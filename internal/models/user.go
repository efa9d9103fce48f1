// internal/models/user.go
package models

import "github.com/google/uuid"

// User is the subset of the account row this service reads and updates.
// Profile and credentials belong to the account subsystem.
type User struct {
	ID       uuid.UUID `json:"id"`
	Gamertag *string   `json:"gamertag,omitempty"`
	IsBanned bool      `json:"isBanned"`
	XPTotal  int       `json:"xpTotal"`
	SRLevel  int       `json:"srLevel"`
}

// Onboarded reports whether the user has finished picking a gamertag.
func (u *User) Onboarded() bool {
	return u.Gamertag != nil && *u.Gamertag != ""
}
