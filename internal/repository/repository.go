// Package repository declares the storage contracts the service layer
// depends on. internal/repository/sqlite is the only implementation; the
// service tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/phonebook/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// SaveOptions carries the membership changes written in the same
// transaction as the profile row.
type SaveOptions struct {
	// SystemGroups maps system group names to the membership the policy
	// requires. Groups not listed are left alone.
	SystemGroups map[string]bool

	// Groups replaces the profile's non-system memberships when
	// ReplaceGroups is set. Unknown names are created.
	Groups        []string
	ReplaceGroups bool
}

// Location filters profiles by place. Empty fields match anything.
type Location struct {
	Country string
	Region  string
	City    string
}

type ProfileRepository interface {
	// SaveProfile inserts the profile when p.ID is empty and updates it
	// otherwise. A duplicate username or email is an apperror validation
	// error and leaves nothing written.
	SaveProfile(ctx context.Context, p *model.Profile, opts SaveOptions) error
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	ListVouchedBy(ctx context.Context, voucherID string) ([]model.Profile, error)
	ListByLocation(ctx context.Context, loc Location, opts ListOptions) ([]model.Profile, error)
}

// GroupSort names the orderings offered by the group index.
type GroupSort string

const (
	SortByName        GroupSort = "name"
	SortByMembersDesc GroupSort = "-num_members"
	SortByMembersAsc  GroupSort = "num_members"
)

type GroupRepository interface {
	ListGroups(ctx context.Context, sort GroupSort, opts ListOptions) ([]model.Group, int, error)
	GetGroupByURL(ctx context.Context, url string) (*model.Group, error)
	ListGroupMembers(ctx context.Context, groupID string, opts ListOptions) ([]model.Profile, error)
	AddGroupMember(ctx context.Context, groupID, profileID string) error
	RemoveGroupMember(ctx context.Context, groupID, profileID string) error
	SearchGroups(ctx context.Context, term string, limit int) ([]model.Group, error)
}

// SearchQuery is a full-text profile search. Terms is free text; every word
// must prefix-match some indexed field. Public restricts the search to
// public-indexable profiles and to the fields they show everyone.
type SearchQuery struct {
	Terms             string
	Public            bool
	IncludeNonVouched bool
	Limit             int
	Offset            int
}

type SearchResult struct {
	Profiles []model.Profile
	Total    int
}

type SearchRepository interface {
	SearchProfiles(ctx context.Context, q SearchQuery) (*SearchResult, error)
	// ReindexProfiles rebuilds the search index and returns the number of
	// documents written.
	ReindexProfiles(ctx context.Context) (int, error)
}

type BlacklistRepository interface {
	ListBlacklist(ctx context.Context) ([]model.BlacklistEntry, error)
	AddBlacklistEntry(ctx context.Context, e model.BlacklistEntry) error
}

type APIAppRepository interface {
	CreateAPIApp(ctx context.Context, app *model.APIApp) error
	GetAPIAppByName(ctx context.Context, name string) (*model.APIApp, error)
}
