package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/policy"
	"github.com/sakif/phonebook/internal/repository"
)

// SearchService runs directory searches and rebuilds the search index on
// demand. Vouched members search the member index; everyone else searches
// the public one.
type SearchService struct {
	search   repository.SearchRepository
	groups   repository.GroupRepository
	profiles repository.ProfileRepository
	logger   *slog.Logger
}

func NewSearchService(
	search repository.SearchRepository,
	groups repository.GroupRepository,
	profiles repository.ProfileRepository,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{search: search, groups: groups, profiles: profiles, logger: logger}
}

// SearchParams are the inputs of a search. Zero values mean defaults.
type SearchParams struct {
	Query             string
	Limit             int
	Page              int
	IncludeNonVouched bool
}

// SearchResults is one page of matches plus the groups whose name matches.
type SearchResults struct {
	Query    string          `json:"query"`
	Profiles []model.Profile `json:"profiles"`
	Groups   []model.Group   `json:"groups"`
	Page

	// Redirect is the username to jump to when exactly one profile and no
	// group matched.
	Redirect string `json:"redirect,omitempty"`
}

// Search runs a full-text profile search. Anonymous and unvouched viewers
// only find public-indexable profiles, and every result is redacted to the
// viewer's privacy level.
func (s *SearchService) Search(ctx context.Context, viewerID string, params SearchParams) (*SearchResults, error) {
	viewer, err := optionalViewer(ctx, s.profiles, viewerID)
	if err != nil {
		return nil, err
	}
	level := policy.ViewerLevel(viewer)

	query := strings.TrimSpace(params.Query)
	limit := clampLimit(params.Limit)
	page := params.Page
	if page < 1 {
		page = 1
	}

	q := repository.SearchQuery{
		Terms:             query,
		Public:            viewer == nil || !viewer.IsVouched,
		IncludeNonVouched: params.IncludeNonVouched,
		Limit:             limit,
		Offset:            (page - 1) * limit,
	}
	res, err := s.search.SearchProfiles(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching profiles: %w", err)
	}

	// A page past the end shows the last page instead.
	pg := paginate(page, limit, res.Total)
	if pg.Number != page {
		q.Offset = pg.offset()
		if res, err = s.search.SearchProfiles(ctx, q); err != nil {
			return nil, fmt.Errorf("searching profiles: %w", err)
		}
	}

	groups, err := s.groups.SearchGroups(ctx, query, MaxAutocomplete)
	if err != nil {
		return nil, fmt.Errorf("searching groups: %w", err)
	}

	out := &SearchResults{
		Query:    query,
		Profiles: []model.Profile{},
		Groups:   groups,
		Page:     pg,
	}
	for i := range res.Profiles {
		out.Profiles = append(out.Profiles, *res.Profiles[i].Redacted(level))
	}
	if out.Groups == nil {
		out.Groups = []model.Group{}
	}
	if res.Total == 1 && len(out.Groups) == 0 && len(out.Profiles) == 1 {
		out.Redirect = out.Profiles[0].Username
	}
	return out, nil
}

// Reindex rebuilds the search index. Only administrators may trigger it.
func (s *SearchService) Reindex(ctx context.Context, actorID string) (int, error) {
	actor, err := requireSignedIn(ctx, s.profiles, actorID)
	if err != nil {
		return 0, err
	}
	if !actor.IsAdmin {
		return 0, apperror.Forbidden("administrators only")
	}

	n, err := s.search.ReindexProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindexing profiles: %w", err)
	}
	s.logger.Info("search index rebuilt",
		slog.String("by", actor.Username),
		slog.Int("documents", n),
	)
	return n, nil
}
