package accounts

import (
	"context"
	"strings"

	"github.com/14vimal2/polarix/internal/filters"
	"go.uber.org/zap"
)

// Get returns the local view of an account.
func (s *Service) Get(ctx context.Context, id string) (MergedAccount, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return MergedAccount{}, localError(opGet, "lookup_failed", err)
	}
	return localView(account), nil
}

// GetByUsername returns the local view of the account holding username.
func (s *Service) GetByUsername(ctx context.Context, username string) (MergedAccount, error) {
	account, err := s.store.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return MergedAccount{}, localError(opGet, "lookup_failed", err)
	}
	return localView(account), nil
}

// ListLocal compiles the filter map against the local account fields and runs
// it inside the local store. Unlike Search, the total is exact.
func (s *Service) ListLocal(ctx context.Context, request SearchRequest) (Page, error) {
	page, size, offset, err := s.pageWindow(opListLocal, request.Page, request.Size)
	if err != nil {
		return Page{}, err
	}
	predicate := filters.Compile(LocalFields, request.Filters)

	found, total, err := s.store.Query(ctx, LocalQuery{
		Predicate:   predicate,
		Offset:      offset,
		Limit:       size,
		OrderColumn: localSortColumn(request.SortBy),
		Descending:  strings.EqualFold(request.SortDir, "desc"),
	})
	if err != nil {
		s.logError(opListLocal, "query_failed", err, zap.Int("conditions", predicate.Len()))
		return Page{}, newServiceError(opListLocal, "query_failed", nil, err)
	}

	content := make([]MergedAccount, 0, len(found))
	for _, account := range found {
		content = append(content, localView(account))
	}
	return newPage(content, page, size, total), nil
}
