package handlers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"couplesync/internal/common"
	"couplesync/internal/server/repository"
)

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{
		"pair_id:eq:p1",
		"users:contains:alice",
	})
	require.NoError(t, err)
	require.Equal(t, []repository.Filter{
		{Field: "pair_id", Op: "eq", Value: "p1"},
		{Field: "users", Op: "contains", Value: "alice"},
	}, filters)
}

func TestParseFiltersValueMayContainColons(t *testing.T) {
	filters, err := parseFilters([]string{"content:eq:s3://bucket/key.jpg"})
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.Equal(t, "s3://bucket/key.jpg", filters[0].Value)
}

func TestParseFiltersMalformed(t *testing.T) {
	_, err := parseFilters([]string{"pair_id=p1"})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = parseFilters([]string{":eq:value"})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestParseOrder(t *testing.T) {
	require.Nil(t, parseOrder(""))
	require.Equal(t, &repository.Order{Field: "date"}, parseOrder("date"))
	require.Equal(t, &repository.Order{Field: "date", Desc: true}, parseOrder("-date"))
}
