package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []int{5, 4, 3}

	page, info := BuildCursorPageInfo(rows, 2, strconv.Itoa)
	require.Equal(t, []int{5, 4}, page)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, "4", cursor.ID)

	page, info = BuildCursorPageInfo(rows, 3, strconv.Itoa)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Normalize().PageSize)
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Normalize().PageSize)
	require.Equal(t, 7, Pagination{PageSize: 7}.Normalize().PageSize)
}
