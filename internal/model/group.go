package model

import "time"

// StaffGroup is the name of the system group whose membership follows the
// auto-vouch email domains.
const StaffGroup = "staff"

// Group is a named collection of profiles.
//
// System groups are owned by policy: the service layer recomputes their
// membership on every profile save, and members cannot join or leave them.
type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"` // slug used in /group/{url}
	Description  string    `json:"description"`
	System       bool      `json:"system"`
	AutoComplete bool      `json:"autoComplete"`
	NumMembers   int       `json:"numMembers"`
	CreatedAt    time.Time `json:"createdAt"`
}

// BlacklistEntry is one row of the username blacklist. Plain entries match a
// whole username; regex entries are matched from the start of it.
type BlacklistEntry struct {
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex"`
}

// APIApp is a third-party site allowed to query membership status.
// KeyHash is a bcrypt hash; the plaintext key is shown once, at creation.
type APIApp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	KeyHash   string    `json:"-"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}
