package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"example.com/bulletin/internal/observability"
)

// VoteAdjustment adds or removes votes for one participant.
type VoteAdjustment struct {
	UserID string
	Add    int
	Remove int
}

// PurchaseResult reports the outcome of a vote purchase. Success is false when
// no adjustment had any effect.
type PurchaseResult struct {
	Success      bool
	Participants []Participant
	Ledger       PurchaseLedger
	Cost         float64
}

// PurchaseAllowance is a purchaser's ledger with what is left under each limit.
type PurchaseAllowance struct {
	Ledger          PurchaseLedger
	RemainingAdd    *int
	RemainingRemove *int
}

// Leaderboard is one ranked group of participants.
type Leaderboard struct {
	Group     string
	Portfolio string
	Entries   []Participant
}

// CoerceVoteCount converts a client-supplied number to a non-negative whole vote count.
func CoerceVoteCount(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(v))
}

// PurchaseVotes applies a batch of vote adjustments on behalf of purchaser.
// The limit check and the writes of participant balances and ledger happen
// in one store critical section for the activity.
func (s *Service) PurchaseVotes(ctx context.Context, id string, purchaser Identity, adjustments []VoteAdjustment) (*PurchaseResult, error) {
	if purchaser.IsZero() {
		return nil, fmt.Errorf("%w: purchaser identity required", ErrUnauthorized)
	}
	now := s.clock()

	users, err := s.roster.ListUsers(ctx)
	if err != nil {
		s.logger.Printf("roster lookup failed before purchase (activity=%s): %v", id, err)
		users = nil
	}

	var cost float64
	var ledger PurchaseLedger
	updated, err := s.store.ApplyVotePurchase(ctx, id, purchaser.UserID, func(a *Activity, current PurchaseLedger) (PurchaseLedger, error) {
		voting := a.Voting()
		if voting == nil {
			return current, validationf("activity is not a voting event")
		}
		if !a.AcceptingInput(now) {
			return current, fmt.Errorf("%w: voting is not open", ErrClosed)
		}
		if users != nil {
			reconcileParticipants(voting, users)
		}

		participants := append([]Participant(nil), voting.Participants...)
		index := make(map[string]int, len(participants))
		for i, p := range participants {
			index[p.UserID] = i
		}

		requestedAdd, requestedRemove := 0, 0
		for _, adj := range adjustments {
			add, remove := max(adj.Add, 0), max(adj.Remove, 0)
			if add == 0 && remove == 0 {
				continue
			}
			i, ok := index[strings.TrimSpace(adj.UserID)]
			if !ok {
				return current, validationf("%q is not a participant", adj.UserID)
			}
			if remove > 0 && !voting.AllowRemovals {
				return current, validationf("vote removals are disabled")
			}
			p := &participants[i]
			if remove > p.Votes {
				return current, fmt.Errorf("%w: %s %s holds %d votes", ErrInsufficientBalance, p.FirstName, p.LastName, p.Votes)
			}
			p.Votes += add - remove
			requestedAdd += add
			requestedRemove += remove
		}
		if requestedAdd == 0 && requestedRemove == 0 {
			return current, errNoEffect
		}

		if voting.AddVoteLimit != nil && requestedAdd > *voting.AddVoteLimit-current.AddVotesPurchased {
			return current, fmt.Errorf("%w: %d votes left to add", ErrLimitExceeded, max(*voting.AddVoteLimit-current.AddVotesPurchased, 0))
		}
		if voting.RemoveVoteLimit != nil && requestedRemove > *voting.RemoveVoteLimit-current.RemoveVotesPurchased {
			return current, fmt.Errorf("%w: %d votes left to remove", ErrLimitExceeded, max(*voting.RemoveVoteLimit-current.RemoveVotesPurchased, 0))
		}

		voting.Participants = participants
		a.UpdatedAt = now

		current.ActivityID = a.ID
		current.PurchaserID = purchaser.UserID
		current.AddVotesPurchased += requestedAdd
		current.RemoveVotesPurchased += requestedRemove
		current.UpdatedAt = now

		cost = float64(requestedAdd) * voting.AddVotePrice
		if voting.RemoveVotePrice != nil {
			cost += float64(requestedRemove) * *voting.RemoveVotePrice
		}
		ledger = current
		return current, nil
	})

	switch {
	case errors.Is(err, errNoEffect):
		observability.RecordPurchase("noop")
		activity, getErr := s.GetActivity(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		current, ledgerErr := s.store.GetPurchaseLedger(ctx, id, purchaser.UserID)
		if ledgerErr != nil {
			return nil, ledgerErr
		}
		return &PurchaseResult{Success: false, Participants: activity.Voting().Participants, Ledger: current}, nil
	case errors.Is(err, ErrLimitExceeded):
		observability.RecordPurchase("limit_exceeded")
		return nil, err
	case err != nil:
		observability.RecordPurchase("rejected")
		return nil, err
	}

	observability.RecordPurchase("applied")
	s.broadcast(ctx, id, TopicVoting)
	return &PurchaseResult{
		Success:      true,
		Participants: updated.Voting().Participants,
		Ledger:       ledger,
		Cost:         math.Round(cost*100) / 100,
	}, nil
}

// PurchaseHistory returns the purchaser's ledger and remaining allowances.
func (s *Service) PurchaseHistory(ctx context.Context, id string, purchaser Identity) (*PurchaseAllowance, error) {
	if purchaser.IsZero() {
		return nil, fmt.Errorf("%w: purchaser identity required", ErrUnauthorized)
	}
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrNotFound
	}
	voting := activity.Voting()
	if voting == nil {
		return nil, validationf("activity is not a voting event")
	}
	ledger, err := s.store.GetPurchaseLedger(ctx, id, purchaser.UserID)
	if err != nil {
		return nil, err
	}

	out := &PurchaseAllowance{Ledger: ledger}
	if voting.AddVoteLimit != nil {
		left := max(*voting.AddVoteLimit-ledger.AddVotesPurchased, 0)
		out.RemainingAdd = &left
	}
	if voting.RemoveVoteLimit != nil {
		left := max(*voting.RemoveVoteLimit-ledger.RemoveVotesPurchased, 0)
		out.RemainingRemove = &left
	}
	return out, nil
}

// Leaderboards ranks participants by vote balance, grouped by the activity's
// leaderboard mode.
func (s *Service) Leaderboards(ctx context.Context, id string) ([]Leaderboard, error) {
	activity, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	voting := activity.Voting()
	if voting == nil {
		return nil, validationf("activity is not a voting event")
	}
	return rankParticipants(voting.Participants, voting.LeaderboardMode), nil
}

func rankParticipants(participants []Participant, mode LeaderboardMode) []Leaderboard {
	type key struct{ group, portfolio string }
	boards := make(map[key]*Leaderboard)
	var order []key
	for _, p := range participants {
		k := key{}
		switch mode {
		case LeaderboardGroup:
			k.group = p.Group
		case LeaderboardGroupPortfolio:
			k.group, k.portfolio = p.Group, p.Portfolio
		}
		board, ok := boards[k]
		if !ok {
			board = &Leaderboard{Group: k.group, Portfolio: k.portfolio}
			boards[k] = board
			order = append(order, k)
		}
		board.Entries = append(board.Entries, p)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].group != order[j].group {
			return order[i].group < order[j].group
		}
		return order[i].portfolio < order[j].portfolio
	})

	out := make([]Leaderboard, 0, len(order))
	for _, k := range order {
		board := boards[k]
		sort.SliceStable(board.Entries, func(i, j int) bool {
			a, b := board.Entries[i], board.Entries[j]
			if a.Votes != b.Votes {
				return a.Votes > b.Votes
			}
			if a.LastName != b.LastName {
				return a.LastName < b.LastName
			}
			return a.FirstName < b.FirstName
		})
		out = append(out, *board)
	}
	return out
}

// reconcileParticipants refreshes group and portfolio from the roster and
// appends newly eligible members with zero votes. It reports whether anything changed.
func reconcileParticipants(voting *VotingPayload, users []RosterUser) bool {
	byID := make(map[string]RosterUser, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	changed := false
	present := make(map[string]struct{}, len(voting.Participants))
	for i := range voting.Participants {
		p := &voting.Participants[i]
		present[p.UserID] = struct{}{}
		u, ok := byID[p.UserID]
		if !ok {
			continue
		}
		if p.Group != u.Group || p.Portfolio != u.Portfolio {
			p.Group, p.Portfolio = u.Group, u.Portfolio
			changed = true
		}
	}

	for _, u := range users {
		if _, ok := present[u.UserID]; ok {
			continue
		}
		if !eligible(voting, u) {
			continue
		}
		voting.Participants = append(voting.Participants, Participant{
			UserID:    u.UserID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Group:     u.Group,
			Portfolio: u.Portfolio,
		})
		present[u.UserID] = struct{}{}
		changed = true
	}
	return changed
}

func eligible(voting *VotingPayload, u RosterUser) bool {
	if u.Group == "" {
		if voting.AllowUngrouped {
			return true
		}
	} else if slices.Contains(voting.AllowedGroups, u.Group) {
		return true
	}
	return u.Portfolio != "" && slices.Contains(voting.AllowedPortfolios, u.Portfolio)
}
