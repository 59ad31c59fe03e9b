package domain_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/bulletin/internal/domain"
)

func captainVoting(limit *int) domain.VotingPayload {
	return domain.VotingPayload{
		Participants: []domain.Participant{
			{UserID: "p1", FirstName: "Pat", LastName: "One", Group: "A"},
			{UserID: "p2", FirstName: "Sam", LastName: "Two", Group: "B"},
		},
		AddVotePrice: 1.5,
		AddVoteLimit: limit,
	}
}

func votesOf(participants []domain.Participant, userID string) int {
	for _, p := range participants {
		if p.UserID == userID {
			return p.Votes
		}
	}
	return -1
}

func TestPurchaseVotesEnforcesAddLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), captainVoting(ptr(5))))

	result, err := f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 3}})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 3, result.Ledger.AddVotesPurchased)
	require.InDelta(t, 4.5, result.Cost, 0.001)
	require.Equal(t, 3, votesOf(result.Participants, "p1"))
	require.Equal(t, domain.TopicVoting, f.broadcaster.last().Topics[0])

	_, err = f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 3}})
	require.ErrorIs(t, err, domain.ErrLimitExceeded)

	ledger, err := f.store.GetPurchaseLedger(ctx, id, alice.UserID)
	require.NoError(t, err)
	require.Equal(t, 3, ledger.AddVotesPurchased)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, votesOf(stored.Voting().Participants, "p1"))

	result, err = f.svc.PurchaseVotes(ctx, id, bob, []domain.VoteAdjustment{{UserID: "p2", Add: 5}})
	require.NoError(t, err)
	require.True(t, result.Success, "limits are tracked per purchaser")

	history, err := f.svc.PurchaseHistory(ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, 2, *history.RemainingAdd)
	require.Nil(t, history.RemainingRemove)
}

func TestPurchaseVotesSerialisesConcurrentBuyers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), captainVoting(ptr(10))))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 1}})
		}()
	}
	wg.Wait()

	ledger, err := f.store.GetPurchaseLedger(ctx, id, alice.UserID)
	require.NoError(t, err)
	require.Equal(t, 10, ledger.AddVotesPurchased)

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, votesOf(stored.Voting().Participants, "p1"))
}

func TestPurchaseVotesRemovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	disabled := f.create(t, votingDraft(f.now.Add(-time.Minute), captainVoting(nil)))
	_, err := f.svc.PurchaseVotes(ctx, disabled, alice, []domain.VoteAdjustment{{UserID: "p1", Remove: 1}})
	require.ErrorIs(t, err, domain.ErrValidation)

	payload := captainVoting(nil)
	payload.AllowRemovals = true
	payload.AddVotePrice = 2
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), payload))

	stored, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.Voting().RemoveVotePrice)
	require.Equal(t, 2.0, *stored.Voting().RemoveVotePrice)

	_, err = f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Remove: 1}})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 2}})
	require.NoError(t, err)

	result, err := f.svc.PurchaseVotes(ctx, id, bob, []domain.VoteAdjustment{{UserID: "p1", Remove: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, votesOf(result.Participants, "p1"))
	require.Equal(t, 1, result.Ledger.RemoveVotesPurchased)
	require.InDelta(t, 2.0, result.Cost, 0.001)
}

func TestPurchaseVotesRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), captainVoting(nil)))

	result, err := f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "p1"}})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Zero(t, result.Ledger.AddVotesPurchased)

	_, err = f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "ghost", Add: 1}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.PurchaseVotes(ctx, id, domain.Identity{}, []domain.VoteAdjustment{{UserID: "p1", Add: 1}})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	scheduled := f.create(t, votingDraft(f.now.Add(time.Hour), captainVoting(nil)))
	_, err = f.svc.PurchaseVotes(ctx, scheduled, alice, []domain.VoteAdjustment{{UserID: "p1", Add: 1}})
	require.ErrorIs(t, err, domain.ErrClosed)
}

func TestLeaderboardsGroupAndRank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := domain.VotingPayload{
		Participants: []domain.Participant{
			{UserID: "b1", FirstName: "Bea", LastName: "Zed", Group: "B"},
			{UserID: "a1", FirstName: "Ann", LastName: "Young", Group: "A"},
			{UserID: "a2", FirstName: "Al", LastName: "Xu", Group: "A"},
		},
		LeaderboardMode: domain.LeaderboardGroup,
	}
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), payload))
	_, err := f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "a1", Add: 2}, {UserID: "b1", Add: 1}})
	require.NoError(t, err)

	boards, err := f.svc.Leaderboards(ctx, id)
	require.NoError(t, err)
	require.Len(t, boards, 2)
	require.Equal(t, "A", boards[0].Group)
	require.Equal(t, []string{"a1", "a2"}, []string{boards[0].Entries[0].UserID, boards[0].Entries[1].UserID})
	require.Equal(t, "B", boards[1].Group)
}

func TestGetActivityReconcilesRosterWithoutPersisting(t *testing.T) {
	f := newFixture(t,
		domain.RosterUser{UserID: "p1", FirstName: "Pat", LastName: "One", Group: "C"},
		domain.RosterUser{UserID: "new", FirstName: "Nia", LastName: "New", Group: "C"},
		domain.RosterUser{UserID: "outsider", FirstName: "Oz", LastName: "Out", Group: "Z"},
	)
	ctx := context.Background()

	payload := captainVoting(nil)
	payload.AllowedGroups = []string{"C"}
	id := f.create(t, votingDraft(f.now.Add(-time.Minute), payload))

	view, err := f.svc.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0, votesOf(view.Voting().Participants, "new"))
	require.Equal(t, -1, votesOf(view.Voting().Participants, "outsider"))
	require.Equal(t, "C", view.Voting().Participants[0].Group)

	raw, err := f.store.GetActivity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, -1, votesOf(raw.Voting().Participants, "new"))

	result, err := f.svc.PurchaseVotes(ctx, id, alice, []domain.VoteAdjustment{{UserID: "new", Add: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, votesOf(result.Participants, "new"))
}

func TestCoerceVoteCount(t *testing.T) {
	tests := map[string]struct {
		in   float64
		want int
	}{
		"whole":    {in: 3, want: 3},
		"fraction": {in: 2.7, want: 2},
		"negative": {in: -4, want: 0},
		"nan":      {in: math.NaN(), want: 0},
		"huge":     {in: 1e12, want: math.MaxInt32},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, domain.CoerceVoteCount(tc.in))
		})
	}
}
