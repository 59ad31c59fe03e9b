package domain_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
	"example.com/bulletin/internal/persistence/memory"
	"example.com/bulletin/internal/roster"
)

var (
	author = domain.Identity{UserID: "author", Name: "Author"}
	alice  = domain.Identity{UserID: "alice", Name: "Alice"}
	bob    = domain.Identity{UserID: "bob", Name: "Bob"}
)

// The recorders keep every call and return err when it is set.

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.PublishedNotice
	err     error
}

func (n *recordingNotifier) NotifyPublished(_ context.Context, notice domain.PublishedNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) perActivity() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int)
	for _, notice := range n.notices {
		out[notice.ActivityID]++
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type recordingReleaser struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingReleaser) ReleaseObjects(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids...)
	return r.err
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	invs []domain.Invalidation
	err  error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, inv domain.Invalidation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invs = append(b.invs, inv)
	return b.err
}

func (b *recordingBroadcaster) last() domain.Invalidation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invs[len(b.invs)-1]
}

type fixture struct {
	svc         *domain.Service
	store       *memory.Store
	notifier    *recordingNotifier
	releaser    *recordingReleaser
	broadcaster *recordingBroadcaster
	now         time.Time
}

func newFixture(t *testing.T, users ...domain.RosterUser) *fixture {
	t.Helper()
	f := &fixture{
		store:       memory.NewStore(),
		notifier:    &recordingNotifier{},
		releaser:    &recordingReleaser{},
		broadcaster: &recordingBroadcaster{},
		now:         time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = domain.NewService(f.store,
		domain.WithNotifier(f.notifier),
		domain.WithObjectReleaser(f.releaser),
		domain.WithBroadcaster(f.broadcaster),
		domain.WithRoster(roster.Static{Users: users}),
		domain.WithClock(func() time.Time { return f.now }),
		domain.WithLogger(log.New(io.Discard, "", 0)),
	)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) create(t *testing.T, draft domain.Draft) string {
	t.Helper()
	result, err := f.svc.CreateActivity(context.Background(), author, draft)
	require.NoError(t, err)
	return result.ID
}

func announcementDraft(publishAt time.Time) domain.Draft {
	return domain.Draft{
		EventType:   domain.EventTypeAnnouncement,
		Title:       "Club night",
		Description: "Doors open at eight",
		PublishAt:   publishAt,
		Payload:     domain.AnnouncementPayload{},
	}
}

func pollDraft(publishAt time.Time, options ...string) domain.Draft {
	return domain.Draft{
		EventType: domain.EventTypePoll,
		Title:     "Team colour",
		PublishAt: publishAt,
		Payload: &domain.PollPayload{
			Question:      "Which colour?",
			Options:       options,
			MaxSelections: 1,
		},
	}
}

func votingDraft(publishAt time.Time, payload domain.VotingPayload) domain.Draft {
	return domain.Draft{
		EventType: domain.EventTypeVoting,
		Title:     "Captain",
		PublishAt: publishAt,
		Payload:   &payload,
	}
}

func formDraft(publishAt time.Time, payload domain.FormPayload) domain.Draft {
	return domain.Draft{
		EventType:   domain.EventTypeForm,
		Title:       "Dinner",
		Description: "Annual dinner sign-up",
		PublishAt:   publishAt,
		Payload:     &payload,
	}
}

func ptr[T any](v T) *T {
	return &v
}
