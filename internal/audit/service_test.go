package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type windowRepo struct {
	total      int
	lastLimit  int
	lastOffset int
	lastFilter ListFilters
}

func (r *windowRepo) ListEntries(_ context.Context, filters ListFilters, limit, offset int) ([]Entry, error) {
	r.lastLimit = limit
	r.lastOffset = offset
	r.lastFilter = filters

	remaining := r.total - offset
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	entries := make([]Entry, remaining)
	for i := range entries {
		entries[i] = Entry{ID: int64(offset + i + 1), Action: ActionLoginSuccess}
	}
	return entries, nil
}

func TestListDefaultsPageAndSize(t *testing.T) {
	repo := &windowRepo{total: 5}
	svc := NewService(repo)

	result, err := svc.List(context.Background(), ListFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Paging.Page)
	require.Equal(t, 20, result.Paging.PageSize)
	require.False(t, result.Paging.HasNext)
	require.Len(t, result.Entries, 5)
	// one extra row is fetched to detect a following page
	require.Equal(t, 21, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
}

func TestListClampsOversizePage(t *testing.T) {
	repo := &windowRepo{total: 500}
	svc := NewService(repo)

	result, err := svc.List(context.Background(), ListFilters{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, 100, result.Paging.PageSize)
	require.Len(t, result.Entries, 100)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
}

func TestListMiddlePageLinksBothDirections(t *testing.T) {
	repo := &windowRepo{total: 25}
	svc := NewService(repo)

	result, err := svc.List(context.Background(), ListFilters{Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, result.Entries, 10)
	require.Equal(t, 10, repo.lastOffset)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 3, result.Paging.NextPage)
	require.True(t, result.Paging.HasNext)
}

func TestListLastPageHasNoNext(t *testing.T) {
	repo := &windowRepo{total: 25}
	svc := NewService(repo)

	result, err := svc.List(context.Background(), ListFilters{Page: 3, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, result.Entries, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 0, result.Paging.NextPage)
	require.Equal(t, 2, result.Paging.PrevPage)
}

func TestListPassesFiltersThrough(t *testing.T) {
	repo := &windowRepo{total: 1}
	svc := NewService(repo)

	_, err := svc.List(context.Background(), ListFilters{Action: ActionSecurityViolation, PerformedBy: 7})
	require.NoError(t, err)
	require.Equal(t, ActionSecurityViolation, repo.lastFilter.Action)
	require.Equal(t, int64(7), repo.lastFilter.PerformedBy)
}
