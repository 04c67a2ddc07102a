package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/policy"
	"github.com/sakif/phonebook/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// =========================================================================
// FAKE STORE
// =========================================================================
//
// fakeStore is an in-memory implementation of every repository interface
// the services use. It keeps the storage contracts that matter to the
// business rules (unique usernames and emails, system groups skipped by
// group replacement, only complete active profiles searchable) and nothing
// else. Everything it hands out is a copy, like rows read from a database.

type fakeStore struct {
	profiles  map[string]*model.Profile
	groups    map[string]*model.Group
	members   map[string]map[string]bool // group ID -> profile IDs
	blacklist []model.BlacklistEntry
	apps      map[string]*model.APIApp
	nextID    int

	saveErr  error
	searches []repository.SearchQuery
	reindex  int
}

var (
	_ repository.ProfileRepository   = (*fakeStore)(nil)
	_ repository.GroupRepository     = (*fakeStore)(nil)
	_ repository.SearchRepository    = (*fakeStore)(nil)
	_ repository.BlacklistRepository = (*fakeStore)(nil)
	_ repository.APIAppRepository    = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	f := &fakeStore{
		profiles: make(map[string]*model.Profile),
		groups:   make(map[string]*model.Group),
		members:  make(map[string]map[string]bool),
		apps:     make(map[string]*model.APIApp),
		blacklist: []model.BlacklistEntry{
			{Value: "admin"},
			{Value: "staff"},
			{Value: "mozillians?", IsRegex: true},
		},
	}
	f.groups["staff"] = &model.Group{ID: "staff", Name: "staff", URL: "staff", System: true}
	return f
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func copyProfile(p *model.Profile) *model.Profile {
	c := *p
	c.Groups = append([]string(nil), p.Groups...)
	return &c
}

// --- ProfileRepository ---

func (f *fakeStore) SaveProfile(_ context.Context, p *model.Profile, opts repository.SaveOptions) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	for id, other := range f.profiles {
		if id == p.ID {
			continue
		}
		if strings.EqualFold(other.Username, p.Username) {
			return apperror.ValidationFailed("username", "username already exists")
		}
		if p.Email != nil && other.Email != nil && *other.Email == *p.Email {
			return apperror.ValidationFailed("email", "email already exists")
		}
	}
	if p.ID == "" {
		p.ID = f.id("p")
		p.CreatedAt = time.Now()
	} else if _, ok := f.profiles[p.ID]; !ok {
		return apperror.NotFound("profile", p.ID)
	}
	p.UpdatedAt = time.Now()
	p.Privacy = p.Privacy.WithDefaults()

	if opts.ReplaceGroups {
		for gid, set := range f.members {
			if !f.groups[gid].System {
				delete(set, p.ID)
			}
		}
		for _, name := range opts.Groups {
			g := f.groupByName(name, false)
			if g.System {
				continue
			}
			f.addMember(g.ID, p.ID)
		}
	}
	for name, member := range opts.SystemGroups {
		g := f.groupByName(name, true)
		if member {
			f.addMember(g.ID, p.ID)
		} else {
			delete(f.members[g.ID], p.ID)
		}
	}

	p.Groups = f.groupNames(p.ID)
	f.profiles[p.ID] = copyProfile(p)
	return nil
}

func (f *fakeStore) GetProfileByID(_ context.Context, id string) (*model.Profile, error) {
	if p, ok := f.profiles[id]; ok {
		return copyProfile(p), nil
	}
	return nil, apperror.NotFound("profile", id)
}

func (f *fakeStore) GetProfileByUsername(_ context.Context, name string) (*model.Profile, error) {
	for _, p := range f.profiles {
		if strings.EqualFold(p.Username, name) {
			return copyProfile(p), nil
		}
	}
	return nil, apperror.NotFound("profile", name)
}

func (f *fakeStore) GetProfileByEmail(_ context.Context, email string) (*model.Profile, error) {
	for _, p := range f.profiles {
		if p.Email != nil && *p.Email == email {
			return copyProfile(p), nil
		}
	}
	return nil, apperror.NotFound("profile", email)
}

func (f *fakeStore) UsernameExists(_ context.Context, name string) (bool, error) {
	for _, p := range f.profiles {
		if strings.EqualFold(p.Username, name) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListVouchedBy(_ context.Context, voucherID string) ([]model.Profile, error) {
	var out []model.Profile
	for _, p := range f.sorted() {
		if p.VouchedBy != nil && *p.VouchedBy == voucherID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByLocation(_ context.Context, loc repository.Location, opts repository.ListOptions) ([]model.Profile, error) {
	var out []model.Profile
	for _, p := range f.sorted() {
		if !listed(&p) {
			continue
		}
		if !strings.EqualFold(p.Country, loc.Country) ||
			(loc.Region != "" && !strings.EqualFold(p.Region, loc.Region)) ||
			(loc.City != "" && !strings.EqualFold(p.City, loc.City)) {
			continue
		}
		out = append(out, p)
	}
	return window(out, opts), nil
}

// --- GroupRepository ---

func (f *fakeStore) ListGroups(_ context.Context, sortBy repository.GroupSort, opts repository.ListOptions) ([]model.Group, int, error) {
	var all []model.Group
	for _, g := range f.groups {
		c := *g
		c.NumMembers = len(f.members[g.ID])
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		switch sortBy {
		case repository.SortByMembersDesc:
			if all[i].NumMembers != all[j].NumMembers {
				return all[i].NumMembers > all[j].NumMembers
			}
		case repository.SortByMembersAsc:
			if all[i].NumMembers != all[j].NumMembers {
				return all[i].NumMembers < all[j].NumMembers
			}
		}
		return all[i].Name < all[j].Name
	})
	total := len(all)
	if opts.Offset >= total {
		return []model.Group{}, total, nil
	}
	all = all[opts.Offset:]
	if opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

func (f *fakeStore) GetGroupByURL(_ context.Context, url string) (*model.Group, error) {
	for _, g := range f.groups {
		if g.URL == url {
			c := *g
			c.NumMembers = len(f.members[g.ID])
			return &c, nil
		}
	}
	return nil, apperror.NotFound("group", url)
}

func (f *fakeStore) ListGroupMembers(_ context.Context, groupID string, opts repository.ListOptions) ([]model.Profile, error) {
	var out []model.Profile
	for _, p := range f.sorted() {
		if f.members[groupID][p.ID] && listed(&p) {
			out = append(out, p)
		}
	}
	return window(out, opts), nil
}

func (f *fakeStore) AddGroupMember(_ context.Context, groupID, profileID string) error {
	f.addMember(groupID, profileID)
	f.profiles[profileID].Groups = f.groupNames(profileID)
	return nil
}

func (f *fakeStore) RemoveGroupMember(_ context.Context, groupID, profileID string) error {
	delete(f.members[groupID], profileID)
	f.profiles[profileID].Groups = f.groupNames(profileID)
	return nil
}

func (f *fakeStore) SearchGroups(_ context.Context, term string, limit int) ([]model.Group, error) {
	out := []model.Group{}
	if term == "" {
		return out, nil
	}
	for _, g := range f.groups {
		if g.AutoComplete && !g.System && strings.Contains(strings.ToLower(g.Name), strings.ToLower(term)) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SearchRepository ---

// SearchProfiles matches every word as a substring of the full name or
// username, which is enough to drive the service logic. Public searches
// only see public-indexable profiles and their public full name.
func (f *fakeStore) SearchProfiles(_ context.Context, q repository.SearchQuery) (*repository.SearchResult, error) {
	f.searches = append(f.searches, q)
	var matched []model.Profile
	for _, p := range f.sorted() {
		if !p.IsActive || !p.IsComplete() || (!q.IncludeNonVouched && !p.IsVouched) {
			continue
		}
		doc := &p
		if q.Public {
			if !p.IsPublicIndexable() {
				continue
			}
			doc = p.Redacted(model.Public)
		}
		hay := strings.ToLower(doc.FullName + " " + doc.Username)
		ok := true
		for _, w := range strings.Fields(strings.ToLower(q.Terms)) {
			if !strings.Contains(hay, w) {
				ok = false
			}
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return &repository.SearchResult{
		Profiles: window(matched, repository.ListOptions{Limit: q.Limit, Offset: q.Offset}),
		Total:    len(matched),
	}, nil
}

func (f *fakeStore) ReindexProfiles(context.Context) (int, error) {
	f.reindex++
	n := 0
	for _, p := range f.profiles {
		if p.IsActive && p.IsComplete() {
			n++
		}
	}
	return n, nil
}

// --- BlacklistRepository ---

func (f *fakeStore) ListBlacklist(context.Context) ([]model.BlacklistEntry, error) {
	return append([]model.BlacklistEntry(nil), f.blacklist...), nil
}

func (f *fakeStore) AddBlacklistEntry(_ context.Context, e model.BlacklistEntry) error {
	f.blacklist = append(f.blacklist, e)
	return nil
}

// --- APIAppRepository ---

func (f *fakeStore) CreateAPIApp(_ context.Context, app *model.APIApp) error {
	if _, ok := f.apps[app.Name]; ok {
		return apperror.ValidationFailed("name", "app name already exists")
	}
	app.ID = f.id("app")
	app.CreatedAt = time.Now()
	c := *app
	f.apps[app.Name] = &c
	return nil
}

func (f *fakeStore) GetAPIAppByName(_ context.Context, name string) (*model.APIApp, error) {
	if a, ok := f.apps[name]; ok {
		c := *a
		return &c, nil
	}
	return nil, apperror.NotFound("app", name)
}

// --- helpers ---

func (f *fakeStore) groupByName(name string, system bool) *model.Group {
	for _, g := range f.groups {
		if strings.EqualFold(g.Name, name) {
			return g
		}
	}
	g := &model.Group{ID: f.id("g"), Name: name, URL: strings.ReplaceAll(strings.ToLower(name), " ", "-"), System: system, AutoComplete: !system}
	f.groups[g.ID] = g
	return g
}

func (f *fakeStore) addMember(groupID, profileID string) {
	if f.members[groupID] == nil {
		f.members[groupID] = make(map[string]bool)
	}
	f.members[groupID][profileID] = true
}

func (f *fakeStore) groupNames(profileID string) []string {
	names := []string{}
	for gid, set := range f.members {
		if set[profileID] {
			names = append(names, f.groups[gid].Name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *fakeStore) sorted() []model.Profile {
	out := make([]model.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, *copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

func listed(p *model.Profile) bool {
	return p.IsActive && p.IsVouched && p.IsComplete()
}

func window(ps []model.Profile, opts repository.ListOptions) []model.Profile {
	if opts.Offset >= len(ps) {
		return nil
	}
	ps = ps[opts.Offset:]
	if opts.Limit < len(ps) {
		ps = ps[:opts.Limit]
	}
	return ps
}

// =========================================================================
// FAKE NOTIFIER
// =========================================================================

type fakeNotifier struct {
	sent []string // "vouchee<-voucher"
	err  error
}

func (n *fakeNotifier) Vouched(_ context.Context, vouchee, voucher *model.Profile) error {
	n.sent = append(n.sent, vouchee.Username+"<-"+voucher.Username)
	return n.err
}

// =========================================================================
// TEST HARNESS
// =========================================================================

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store    *fakeStore
	notifier *fakeNotifier
	tokens   *auth.TokenService
	profiles *ProfileService
	reg      *RegistrationService
	groups   *GroupService
	search   *SearchService
	apps     *APIAppService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	notifier := &fakeNotifier{}

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	profiles := NewProfileService(store, store, policy.New([]string{"mozilla.com"}), notifier, logger)
	profiles.now = func() time.Time { return testNow }

	return &harness{
		store:    store,
		notifier: notifier,
		tokens:   tokens,
		profiles: profiles,
		reg:      NewRegistrationService(store, profiles, tokens, logger),
		groups:   NewGroupService(store, store, logger),
		search:   NewSearchService(store, store, store, logger),
		apps:     NewAPIAppService(store, store, auth.NewKeyServiceWithCost(bcrypt.MinCost), logger),
	}
}

type profileOpt func(*model.Profile)

func vouched() profileOpt {
	return func(p *model.Profile) {
		t := testNow.Add(-24 * time.Hour)
		p.IsVouched = true
		p.DateVouched = &t
	}
}

func incomplete() profileOpt {
	return func(p *model.Profile) { p.FullName = "" }
}

// publicName shows the full name to everyone, which makes the profile
// public and public-indexable.
func publicName() profileOpt {
	return func(p *model.Profile) { p.Privacy.FullName = model.Public }
}

func withBio(bio string) profileOpt {
	return func(p *model.Profile) { p.Bio = bio }
}

func admin() profileOpt {
	return func(p *model.Profile) { p.IsAdmin = true }
}

// addProfile saves a profile through ProfileService.Save, so the vouch
// policy applies exactly as in production.
func (h *harness) addProfile(t *testing.T, name, email string, opts ...profileOpt) *model.Profile {
	t.Helper()
	p := &model.Profile{
		Username: name,
		Email:    model.StringPtr(email),
		FullName: strings.ToUpper(name[:1]) + name[1:] + " Example",
		IsActive: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := h.profiles.Save(context.Background(), p); err != nil {
		t.Fatalf("Save(%s): %v", name, err)
	}
	return p
}
