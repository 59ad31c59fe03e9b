package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
)

func tally(t *testing.T, results *domain.PollResults) map[string]int {
	t.Helper()
	out := make(map[string]int, len(results.Options))
	for _, o := range results.Options {
		out[o.Option] = o.Count
	}
	return out
}

func TestPollVotesReplacePreviousChoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, pollDraft(f.now.Add(-time.Minute), "Red", "Blue"))

	for voter, choice := range map[string]string{"u1": "Red", "u2": "red", "u3": "Blue"} {
		_, err := f.svc.CastPollVote(ctx, id, domain.Identity{UserID: voter}, domain.VoteInput{Selections: []string{choice}})
		require.NoError(t, err)
	}

	results, err := f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Red": 2, "Blue": 1}, tally(t, results))
	require.Equal(t, 3, results.TotalVotes)

	_, err = f.svc.CastPollVote(ctx, id, domain.Identity{UserID: "u3"}, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)

	results, err = f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Red": 3, "Blue": 0}, tally(t, results))
	require.Empty(t, results.Options[0].Voters)

	mine, err := f.svc.MyPollVote(ctx, id, domain.Identity{UserID: "u3"})
	require.NoError(t, err)
	require.Equal(t, []string{"Red"}, mine.Selections)

	none, err := f.svc.MyPollVote(ctx, id, domain.Identity{UserID: "nobody"})
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestPollSelectionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := pollDraft(f.now.Add(-time.Minute), "Red", "Blue", "Green")
	draft.Payload.(*domain.PollPayload).MaxSelections = 2
	id := f.create(t, draft)

	_, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Red", "Blue", "Green"}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Purple"}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{})
	require.ErrorIs(t, err, domain.ErrValidation)

	vote, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"red", "Red", " blue "}})
	require.NoError(t, err)
	require.Equal(t, []string{"Red", "Blue"}, vote.Selections)

	_, err = f.svc.CastPollVote(ctx, id, domain.Identity{}, domain.VoteInput{Selections: []string{"Red"}})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.CastPollVote(ctx, "missing", alice, domain.VoteInput{Selections: []string{"Red"}})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPollAdditionalOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed := f.create(t, pollDraft(f.now.Add(-time.Minute), "Red", "Blue"))
	_, err := f.svc.CastPollVote(ctx, closed, alice, domain.VoteInput{NewOption: "Green"})
	require.ErrorIs(t, err, domain.ErrValidation)

	draft := pollDraft(f.now.Add(-time.Minute), "Red", "Blue")
	draft.Payload.(*domain.PollPayload).AllowAdditionalOptions = true
	id := f.create(t, draft)

	_, err = f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{NewOption: "Green"})
	require.NoError(t, err)
	require.Contains(t, f.broadcaster.last().Topics, domain.TopicAnnouncements)

	vote, err := f.svc.CastPollVote(ctx, id, bob, domain.VoteInput{NewOption: " green "})
	require.NoError(t, err)
	require.Equal(t, []string{"Green"}, vote.Selections)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"Red", "Blue", "Green"}, stored.Poll().Options)

	results, err := f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, tally(t, results)["Green"])
}

func TestPollClosing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.create(t, pollDraft(f.now.Add(time.Hour), "Red", "Blue"))
	_, err := f.svc.CastPollVote(ctx, scheduled, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.ErrorIs(t, err, domain.ErrClosed)

	draft := pollDraft(f.now.Add(-time.Minute), "Red", "Blue")
	draft.Payload.(*domain.PollPayload).ClosesAt = ptr(f.now.Add(time.Hour))
	timed := f.create(t, draft)
	_, err = f.svc.CastPollVote(ctx, timed, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.svc.CastPollVote(ctx, timed, bob, domain.VoteInput{Selections: []string{"Red"}})
	require.ErrorIs(t, err, domain.ErrClosed)

	manual := f.create(t, pollDraft(f.now.Add(-time.Minute), "Red", "Blue"))
	closed, err := f.svc.ClosePoll(ctx, manual, author)
	require.NoError(t, err)
	require.NotNil(t, closed.Poll().ClosesAt)
	f.advance(time.Second)
	_, err = f.svc.CastPollVote(ctx, manual, alice, domain.VoteInput{Selections: []string{"Blue"}})
	require.ErrorIs(t, err, domain.ErrClosed)

	_, err = f.svc.ClosePoll(ctx, manual, domain.Identity{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClosePollRequiresPublishedPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.create(t, pollDraft(f.now.Add(time.Hour), "Red", "Blue"))
	_, err := f.svc.ClosePoll(ctx, id, author)
	require.ErrorIs(t, err, domain.ErrValidation)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Nil(t, stored.Poll().ClosesAt)

	_, err = f.svc.UpdateActivity(ctx, id, author, domain.Draft{
		EventType: stored.EventType,
		Title:     stored.Title,
		PublishAt: stored.PublishAt,
		Payload:   stored.Payload,
	})
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	closed, err := f.svc.ClosePoll(ctx, id, author)
	require.NoError(t, err)
	require.True(t, closed.Poll().ClosesAt.After(closed.PublishAt))
}

func TestPollVotesSurviveOptionRespelling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, pollDraft(f.now.Add(-time.Minute), "Red", "Blue"))

	_, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.UpdateActivity(ctx, id, author, domain.Draft{
		EventType: stored.EventType,
		Title:     stored.Title,
		PublishAt: stored.PublishAt,
		Payload:   &domain.PollPayload{Question: "Which colour?", Options: []string{"RED", "Blue"}, MaxSelections: 1},
	})
	require.NoError(t, err)

	results, err := f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"RED": 1, "Blue": 0}, tally(t, results))
	require.Equal(t, 1, results.TotalVotes)

	mine, err := f.svc.MyPollVote(ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, []string{"RED"}, mine.Selections)
}

func TestPollBreakdownListsVoters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := pollDraft(f.now.Add(-time.Minute), "Red", "Blue")
	draft.Payload.(*domain.PollPayload).Anonymous = true
	id := f.create(t, draft)
	_, err := f.svc.CastPollVote(ctx, id, alice, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)
	_, err = f.svc.CastPollVote(ctx, id, bob, domain.VoteInput{Selections: []string{"Red"}})
	require.NoError(t, err)

	plain, err := f.svc.PollResults(ctx, id)
	require.NoError(t, err)
	require.True(t, plain.Anonymous)
	require.Empty(t, plain.Options[0].Voters)

	breakdown, err := f.svc.PollResultsBreakdown(ctx, id)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, breakdown.Options[0].Voters)

	announcement := f.create(t, announcementDraft(f.now))
	_, err = f.svc.PollResults(ctx, announcement)
	require.ErrorIs(t, err, domain.ErrValidation)
}
