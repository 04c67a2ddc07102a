package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

// MaxAutocomplete bounds the group name suggestions returned at once.
const MaxAutocomplete = 20

type GroupService struct {
	groups   repository.GroupRepository
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

func NewGroupService(groups repository.GroupRepository, profiles repository.ProfileRepository, logger *slog.Logger) *GroupService {
	return &GroupService{groups: groups, profiles: profiles, logger: logger}
}

// GroupListing is one page of the group index.
type GroupListing struct {
	Groups []model.Group `json:"groups"`
	Sort   string        `json:"sort"`
	Page
}

// ParseGroupSort accepts the three index orderings and falls back to name.
func ParseGroupSort(s string) repository.GroupSort {
	switch repository.GroupSort(s) {
	case repository.SortByMembersDesc, repository.SortByMembersAsc:
		return repository.GroupSort(s)
	default:
		return repository.SortByName
	}
}

// List returns one page of groups in the requested order.
func (s *GroupService) List(ctx context.Context, viewerID, sort string, page int) (*GroupListing, error) {
	if _, err := requireVouched(ctx, s.profiles, viewerID); err != nil {
		return nil, err
	}
	order := ParseGroupSort(sort)

	// The total is needed to clamp the page, so count first with a
	// zero-length page.
	_, total, err := s.groups.ListGroups(ctx, order, repository.ListOptions{Limit: 0})
	if err != nil {
		return nil, fmt.Errorf("counting groups: %w", err)
	}
	pg := paginate(page, DefaultPageSize, total)

	groups, _, err := s.groups.ListGroups(ctx, order, repository.ListOptions{Limit: pg.Limit, Offset: pg.offset()})
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	if groups == nil {
		groups = []model.Group{}
	}
	return &GroupListing{Groups: groups, Sort: string(order), Page: pg}, nil
}

// GroupDetail is a group with one page of its listed members.
type GroupDetail struct {
	Group    *model.Group    `json:"group"`
	Members  []model.Profile `json:"members"`
	IsMember bool            `json:"isMember"`
	Page
}

// Show returns the group and its complete, vouched members.
func (s *GroupService) Show(ctx context.Context, viewerID, url string, page int) (*GroupDetail, error) {
	viewer, err := requireVouched(ctx, s.profiles, viewerID)
	if err != nil {
		return nil, err
	}
	g, err := s.groups.GetGroupByURL(ctx, url)
	if err != nil {
		return nil, err
	}

	pg := paginate(page, DefaultPageSize, g.NumMembers)
	members, err := s.groups.ListGroupMembers(ctx, g.ID, repository.ListOptions{Limit: pg.Limit, Offset: pg.offset()})
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", g.URL, err)
	}
	if members == nil {
		members = []model.Profile{}
	}
	return &GroupDetail{Group: g, Members: members, IsMember: hasGroup(viewer, g.Name), Page: pg}, nil
}

// ToggleResult reports membership after a Toggle.
type ToggleResult struct {
	Group    *model.Group `json:"group"`
	IsMember bool         `json:"isMember"`
	Changed  bool         `json:"changed"`
}

// Toggle joins the group if the viewer is not a member and leaves it
// otherwise. System groups are left untouched: their membership is derived
// from the vouch policy.
func (s *GroupService) Toggle(ctx context.Context, viewerID, url string) (*ToggleResult, error) {
	viewer, err := requireVouched(ctx, s.profiles, viewerID)
	if err != nil {
		return nil, err
	}
	g, err := s.groups.GetGroupByURL(ctx, url)
	if err != nil {
		return nil, err
	}

	member := hasGroup(viewer, g.Name)
	if g.System {
		s.logger.Debug("ignoring toggle of system group",
			slog.String("group", g.Name),
			slog.String("username", viewer.Username),
		)
		return &ToggleResult{Group: g, IsMember: member}, nil
	}

	if member {
		err = s.groups.RemoveGroupMember(ctx, g.ID, viewer.ID)
	} else {
		err = s.groups.AddGroupMember(ctx, g.ID, viewer.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("toggling membership of %s: %w", g.URL, err)
	}

	s.logger.Info("group membership toggled",
		slog.String("group", g.Name),
		slog.String("username", viewer.Username),
		slog.Bool("member", !member),
	)
	return &ToggleResult{Group: g, IsMember: !member, Changed: true}, nil
}

// Autocomplete returns names of auto-complete groups containing term.
func (s *GroupService) Autocomplete(ctx context.Context, viewerID, term string) ([]string, error) {
	if _, err := requireSignedIn(ctx, s.profiles, viewerID); err != nil {
		return nil, err
	}
	groups, err := s.groups.SearchGroups(ctx, strings.TrimSpace(term), MaxAutocomplete)
	if err != nil {
		return nil, fmt.Errorf("searching groups: %w", err)
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names, nil
}

func hasGroup(p *model.Profile, name string) bool {
	for _, g := range p.Groups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}
