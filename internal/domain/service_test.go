package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
)

func TestCreateActivityPublishesWhenDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.CreateActivity(ctx, author, announcementDraft(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, result.Status)
	require.Equal(t, 1, f.notifier.count())
	require.Equal(t, result.ID, f.notifier.notices[0].ActivityID)
	require.Equal(t, []domain.Topic{domain.TopicAnnouncements}, f.broadcaster.last().Topics)

	stored, err := f.svc.GetActivity(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, "author", stored.CreatedBy)
	require.EqualValues(t, 1, stored.Version)
}

func TestCreateScheduledActivityWaits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.create(t, announcementDraft(f.now.Add(time.Hour)))
	require.Zero(t, f.notifier.count())

	scheduled, err := f.svc.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	require.Equal(t, id, scheduled[0].ID)

	published, err := f.svc.ListPublished(ctx)
	require.NoError(t, err)
	require.Empty(t, published)
}

func TestListPublishedIncludesOverdueScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.create(t, announcementDraft(f.now.Add(-time.Hour)))
	late := f.create(t, announcementDraft(f.now.Add(time.Hour)))
	f.advance(2 * time.Hour)

	published, err := f.svc.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, published, 2)
	require.Equal(t, late, published[0].ID, "newest first")
	require.Equal(t, domain.StatusPublished, published[0].Status)
	require.Equal(t, early, published[1].ID)

	stored, err := f.svc.GetActivity(ctx, late)
	require.NoError(t, err)
	require.Equal(t, domain.StatusScheduled, stored.Status, "listing must not persist the transition")

	scheduled, err := f.svc.ListScheduled(ctx)
	require.NoError(t, err)
	require.Empty(t, scheduled)
}

func TestCreateActivityRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateActivity(context.Background(), domain.Identity{}, announcementDraft(f.now))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateActivityValidation(t *testing.T) {
	f := newFixture(t)
	now := f.now

	cases := map[string]func(d *domain.Draft){
		"blank title":          func(d *domain.Draft) { d.Title = "   " },
		"missing description":  func(d *domain.Draft) { d.Description = "" },
		"missing publish time": func(d *domain.Draft) { d.PublishAt = time.Time{} },
		"both automations": func(d *domain.Draft) {
			d.AutoDeleteAt = ptr(now.Add(2 * time.Hour))
			d.AutoArchiveAt = ptr(now.Add(3 * time.Hour))
		},
		"delete before publish": func(d *domain.Draft) { d.AutoDeleteAt = ptr(now.Add(-2 * time.Hour)) },
		"too many images":       func(d *domain.Draft) { d.ImageIDs = []string{"1", "2", "3", "4", "5", "6"} },
		"unknown event type":    func(d *domain.Draft) { d.EventType = "raffle" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			draft := announcementDraft(now)
			mutate(&draft)
			_, err := f.svc.CreateActivity(context.Background(), author, draft)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := f.svc.CreateActivity(context.Background(), author, pollDraft(now, "Red", " red "))
	require.ErrorIs(t, err, domain.ErrValidation, "duplicate options collapse below two")

	withImages := announcementDraft(now)
	withImages.ImageIDs = []string{"a", "a", "b"}
	id := f.create(t, withImages)
	stored, err := f.svc.GetActivity(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, stored.ImageIDs)
}

func TestUpdateActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := announcementDraft(f.now.Add(time.Hour))
	draft.ImageIDs = []string{"img-a", "img-b"}
	id := f.create(t, draft)

	changedType := pollDraft(f.now.Add(time.Hour), "Red", "Blue")
	_, err := f.svc.UpdateActivity(ctx, id, author, changedType)
	require.ErrorIs(t, err, domain.ErrValidation)

	draft.ImageIDs = []string{"img-b"}
	draft.Title = "Renamed"
	draft.PublishAt = f.now.Add(-time.Minute)
	result, err := f.svc.UpdateActivity(ctx, id, author, draft)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, result.Status)
	require.Equal(t, []string{"img-a"}, f.releaser.ids)
	require.Equal(t, 1, f.notifier.count(), "moving publishAt into the past publishes")

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Renamed", stored.Title)
	require.EqualValues(t, 2, stored.Version)

	_, err = f.svc.UpdateActivity(ctx, "missing", author, draft)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateVotingKeepsBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.create(t, votingDraft(f.now.Add(-time.Minute), domain.VotingPayload{
		Participants: []domain.Participant{{UserID: "p1", FirstName: "Pat", LastName: "One"}},
		AddVotePrice: 1,
	}))
	_, err := f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 2}})
	require.NoError(t, err)

	_, err = f.svc.UpdateActivity(ctx, id, author, votingDraft(f.now.Add(-time.Minute), domain.VotingPayload{
		Participants: []domain.Participant{
			{UserID: "p1", FirstName: "Pat", LastName: "One", Votes: 99},
			{UserID: "p2", FirstName: "Sam", LastName: "Two", Votes: 7},
		},
		AddVotePrice: 1,
	}))
	require.NoError(t, err)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	participants := stored.Voting().Participants
	require.Len(t, participants, 2)
	require.Equal(t, 2, participants[0].Votes)
	require.Equal(t, 0, participants[1].Votes)
}

func TestRemoveActivityCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := pollDraft(f.now.Add(-time.Minute), "Red", "Blue")
	draft.ImageIDs = []string{"img-1"}
	id := f.create(t, draft)
	_, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.RemoveActivity(ctx, id, domain.Identity{}), domain.ErrUnauthorized)
	require.NoError(t, f.svc.RemoveActivity(ctx, id, author))

	_, err = f.svc.GetActivity(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	votes, err := f.store.ListPollVotes(ctx, id)
	require.NoError(t, err)
	require.Empty(t, votes)
	require.Equal(t, []string{"img-1"}, f.releaser.ids)

	require.ErrorIs(t, f.svc.RemoveActivity(ctx, id, author), domain.ErrNotFound)
}

func TestMutationsTolerateSideEffectFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("downstream unavailable")
	f.notifier.err = boom
	f.releaser.err = boom
	f.broadcaster.err = boom

	draft := announcementDraft(f.now.Add(-time.Minute))
	draft.ImageIDs = []string{"img-a", "img-b"}
	created, err := f.svc.CreateActivity(ctx, author, draft)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, created.Status)
	require.Equal(t, 1, f.notifier.count())

	draft.ImageIDs = []string{"img-b"}
	draft.Title = "Renamed"
	updated, err := f.svc.UpdateActivity(ctx, created.ID, author, draft)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, updated.Status)

	stored, err := f.svc.GetActivity(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", stored.Title)

	require.NoError(t, f.svc.RemoveActivity(ctx, created.ID, author))
	_, err = f.svc.GetActivity(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{"img-a", "img-b"}, f.releaser.ids)
	require.NotEmpty(t, f.broadcaster.invs)
}

func TestArchiveActivityStopsInteraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.create(t, pollDraft(f.now.Add(-time.Minute), "Red", "Blue"))
	_, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)

	result, err := f.svc.ArchiveActivity(ctx, id, author)
	require.NoError(t, err)
	require.Equal(t, domain.StatusArchived, result.Status)

	archived, err := f.svc.ListArchived(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)

	_, err = f.svc.CastPollVote(ctx, id, bob, domain.VoteInput{Selections: []string{"Blue"}})
	require.ErrorIs(t, err, domain.ErrClosed)

	results, err := f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, results.TotalVotes, "archiving keeps votes")

	again, err := f.svc.ArchiveActivity(ctx, id, author)
	require.NoError(t, err)
	require.Equal(t, domain.StatusArchived, again.Status)
}
