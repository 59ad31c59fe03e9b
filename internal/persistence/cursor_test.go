package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC), ID: "sub|1"}

	token := EncodeCursor(in)
	require.NotContains(t, token, "=")

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))

	empty, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)

	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y", "bm90LWEtdGltZXxpZA"} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, domain.ErrValidation, token)
	}
}
