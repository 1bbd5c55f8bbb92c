package accounts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/14vimal2/polarix/internal/identity"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SearchTermKey is the filter key forwarded to the identity store's free-text search.
const SearchTermKey = "search"

// SearchRequest carries the raw filter map together with pagination and sort.
type SearchRequest struct {
	Filters map[string]string
	Page    int
	Size    int
	SortBy  string
	SortDir string
}

// Search fetches one page from the identity store, filters and sorts it in
// process, provisions local records for identities seen for the first time and
// returns the merged page.
//
// Filtering and sorting apply within the fetched window only, and TotalElements
// is the identity store's unfiltered user count: the identity store offers no
// filtered count matching the in-process filters, so the total over-reports
// whenever a filter is present.
func (s *Service) Search(ctx context.Context, request SearchRequest) (Page, error) {
	started := s.clock()
	page, size, offset, err := s.pageWindow(opSearch, request.Page, request.Size)
	if err != nil {
		return Page{}, err
	}
	term := request.Filters[SearchTermKey]

	var (
		users []identity.User
		total int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		if term != "" {
			users, err = s.directory.SearchUsers(groupCtx, term, offset, size)
		} else {
			users, err = s.directory.ListUsers(groupCtx, offset, size)
		}
		return err
	})
	group.Go(func() error {
		var err error
		total, err = s.directory.CountUsers(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		s.logError(opSearch, "identity_unavailable", err, zap.Int("offset", offset), zap.Int("limit", size))
		return Page{}, newServiceError(opSearch, "identity_unavailable", ErrExternalUnavailable, err)
	}

	visible := make([]identity.User, 0, len(users))
	for _, user := range users {
		if matchesIdentityFilters(user, request.Filters) {
			visible = append(visible, user)
		}
	}
	sortUsers(visible, request.SortBy, request.SortDir)

	if err := s.provision(ctx, visible); err != nil {
		return Page{}, err
	}

	externalIDs := externalIDsOf(visible)
	locals, err := s.store.FindAllByExternalIDs(ctx, externalIDs)
	if err != nil {
		s.logError(opSearch, "local_lookup_failed", err, zap.Int("count", len(externalIDs)))
		return Page{}, localError(opSearch, "local_lookup_failed", err)
	}
	byExternalID := indexByExternalID(locals)

	content := make([]MergedAccount, 0, len(visible))
	for _, user := range visible {
		local, ok := byExternalID[user.ID]
		if !ok {
			s.logError(opSearch, "local_record_missing", nil, zap.String("external_id", user.ID))
			return Page{}, newServiceError(opSearch, "local_record_missing", ErrInvariantViolation,
				fmt.Errorf("external id %q has no local record", user.ID))
		}
		content = append(content, merge(user, &local))
	}

	s.metrics.ObserveSearch(s.clock().Sub(started), len(content))
	return newPage(content, page, size, int64(total)), nil
}

// provision inserts local records for identities without one, using a single
// batch lookup and a single batch insert. A uniqueness conflict means another
// request provisioned concurrently; the lookup is repeated once before giving up.
func (s *Service) provision(ctx context.Context, users []identity.User) error {
	if len(users) == 0 {
		return nil
	}
	provisioned, err := s.provisionMissing(ctx, users)
	if errors.Is(err, ErrConflict) {
		s.logger.Warn("provisioning raced, retrying", zap.Int("candidates", len(users)))
		provisioned, err = s.provisionMissing(ctx, users)
	}
	if err != nil {
		s.logError(opSearch, "provision_failed", err, zap.Int("candidates", len(users)))
		return localError(opSearch, "provision_failed", err)
	}
	if len(provisioned) > 0 {
		s.metrics.AddProvisioned(len(provisioned))
		s.logger.Info("provisioned accounts from identity store", zap.Int("count", len(provisioned)))
		s.publish(EventAccountProvisioned, OutcomeCompleted, provisioned...)
	}
	return nil
}

func (s *Service) provisionMissing(ctx context.Context, users []identity.User) ([]string, error) {
	existing, err := s.store.FindAllByExternalIDs(ctx, externalIDsOf(users))
	if err != nil {
		return nil, err
	}
	known := indexByExternalID(existing)

	missing := make([]Account, 0, len(users))
	for _, user := range users {
		if _, ok := known[user.ID]; ok {
			continue
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			return nil, err
		}
		missing = append(missing, provisionedAccount(id, user))
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := s.store.SaveAll(ctx, missing); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(missing))
	for _, account := range missing {
		ids = append(ids, account.ID)
	}
	return ids, nil
}

// maxOffset bounds page*size; the identity store addresses windows with a
// 32-bit first-result index.
const maxOffset = math.MaxInt32

// pageWindow clamps the requested page and size and returns the offset.
// A page whose offset exceeds maxOffset is rejected rather than wrapped.
func (s *Service) pageWindow(operation string, page, size int) (int, int, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.defaultPageSize
	}
	if size > s.maxPageSize {
		size = s.maxPageSize
	}
	if page > maxOffset/size {
		return 0, 0, 0, newServiceError(operation, "page_out_of_range", ErrInvalidInput,
			fmt.Errorf("page %d with size %d is beyond the addressable range", page, size))
	}
	return page, size, page * size, nil
}

// matchesIdentityFilters applies the filter keys the identity store cannot
// evaluate. Keys match case-insensitively; empty values and unknown keys pass.
func matchesIdentityFilters(user identity.User, filters map[string]string) bool {
	for key, value := range filters {
		if value == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "enabled":
			if user.Enabled != strings.EqualFold(value, "true") {
				return false
			}
		case "emailverified":
			if user.EmailVerified != strings.EqualFold(value, "true") {
				return false
			}
		case "firstname":
			if !containsFold(user.FirstName, value) {
				return false
			}
		case "lastname":
			if !containsFold(user.LastName, value) {
				return false
			}
		}
	}
	return true
}

func containsFold(attribute, needle string) bool {
	return attribute != "" && strings.Contains(strings.ToLower(attribute), strings.ToLower(needle))
}

// sortUsers orders users stably by one of username, email, firstname, lastname
// or createdtimestamp; anything else sorts by username. Text compares
// case-insensitively. Missing values sort last in both directions.
func sortUsers(users []identity.User, sortBy, sortDir string) {
	descending := strings.EqualFold(sortDir, "desc")
	compareValues := sortComparator(strings.ToLower(strings.TrimSpace(sortBy)))
	slices.SortStableFunc(users, func(a, b identity.User) int {
		order, bothPresent := compareValues(a, b)
		if bothPresent && descending {
			return -order
		}
		return order
	})
}

// sortComparator returns a comparison that also reports whether both values
// were present; when one is missing the order already places it last.
func sortComparator(sortBy string) func(a, b identity.User) (int, bool) {
	if sortBy == "createdtimestamp" {
		return func(a, b identity.User) (int, bool) {
			switch {
			case a.CreatedTimestamp == nil && b.CreatedTimestamp == nil:
				return 0, false
			case a.CreatedTimestamp == nil:
				return 1, false
			case b.CreatedTimestamp == nil:
				return -1, false
			}
			switch left, right := *a.CreatedTimestamp, *b.CreatedTimestamp; {
			case left < right:
				return -1, true
			case left > right:
				return 1, true
			}
			return 0, true
		}
	}

	text := func(user identity.User) string { return user.Username }
	switch sortBy {
	case "email":
		text = func(user identity.User) string { return user.Email }
	case "firstname":
		text = func(user identity.User) string { return user.FirstName }
	case "lastname":
		text = func(user identity.User) string { return user.LastName }
	}
	return func(a, b identity.User) (int, bool) {
		left, right := text(a), text(b)
		switch {
		case left == "" && right == "":
			return 0, false
		case left == "":
			return 1, false
		case right == "":
			return -1, false
		}
		return strings.Compare(strings.ToLower(left), strings.ToLower(right)), true
	}
}

func externalIDsOf(users []identity.User) []string {
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids
}

func indexByExternalID(accounts []Account) map[string]Account {
	indexed := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		indexed[account.ExternalID] = account
	}
	return indexed
}
