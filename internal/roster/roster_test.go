package roster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
)

func TestHTTPProviderFetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/users", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"users":[{"userId":"u1","firstName":"Ada","lastName":"Lovelace","group":"G1","role":"member"},{"firstName":"Nobody"}]}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	provider := NewHTTPProvider(srv.URL+"/", "secret", time.Second, time.Minute)
	provider.now = func() time.Time { return now }

	users, err := provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.RosterUser{{UserID: "u1", FirstName: "Ada", LastName: "Lovelace", Group: "G1", Role: "member"}}, users)

	_, err = provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestHTTPProviderFreshContextSkipsCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"users":[{"userId":"u1","role":"member"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"users":[{"userId":"u1","role":"member"},{"userId":"u2","role":"member"}]}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, "", time.Second, time.Hour)

	users, err := provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)

	users, err = provider.ListUsers(domain.WithFreshRoster(context.Background()))
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.EqualValues(t, 2, calls.Load())

	users, err = provider.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2, "a fresh fetch refreshes the cache")
	require.EqualValues(t, 2, calls.Load())
}

func TestHTTPProviderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, "", time.Second, time.Minute).ListUsers(context.Background())
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.Status)
}

func TestStaticReturnsCopy(t *testing.T) {
	s := Static{Users: []domain.RosterUser{{UserID: "u1"}}}
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	users[0].UserID = "changed"
	require.Equal(t, "u1", s.Users[0].UserID)
}
