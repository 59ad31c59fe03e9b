package domain

import (
	"context"
	"fmt"
	"strings"

	"example.com/bulletin/internal/observability"
)

// VoteInput is a voter's selection, optionally proposing a new option.
type VoteInput struct {
	Selections []string
	NewOption  string
}

// OptionTally is the vote count of one poll option.
type OptionTally struct {
	Option string
	Count  int
	Voters []string
}

// PollResults is the tally of a poll.
type PollResults struct {
	ActivityID string
	Question   string
	Anonymous  bool
	Options    []OptionTally
	TotalVotes int
}

// CastPollVote records the voter's selections, replacing any previous vote.
func (s *Service) CastPollVote(ctx context.Context, id string, voter Identity, in VoteInput) (*PollVote, error) {
	if voter.IsZero() {
		return nil, fmt.Errorf("%w: voter identity required", ErrUnauthorized)
	}
	now := s.clock()
	newOption := strings.TrimSpace(in.NewOption)

	vote, err := s.store.CastPollVote(ctx, id, func(a *Activity) (PollVote, bool, error) {
		poll := a.Poll()
		if poll == nil {
			return PollVote{}, false, validationf("activity is not a poll")
		}
		if !a.AcceptingInput(now) {
			return PollVote{}, false, fmt.Errorf("%w: poll is not open", ErrClosed)
		}
		if poll.ClosesAt != nil && !poll.ClosesAt.After(now) {
			return PollVote{}, false, fmt.Errorf("%w: poll closed", ErrClosed)
		}

		modified := false
		selections := append([]string(nil), in.Selections...)
		if newOption != "" {
			if !poll.AllowAdditionalOptions {
				return PollVote{}, false, validationf("poll does not accept new options")
			}
			canonical, ok := findFold(poll.Options, newOption)
			if !ok {
				poll.Options = append(poll.Options, newOption)
				canonical = newOption
				modified = true
			}
			selections = append(selections, canonical)
		}

		final, err := resolveSelections(poll, selections)
		if err != nil {
			return PollVote{}, false, err
		}
		return PollVote{
			ActivityID: a.ID,
			VoterID:    voter.UserID,
			Selections: final,
			UpdatedAt:  now,
		}, modified, nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPollVote()
	topics := []Topic{TopicPollVotes}
	if newOption != "" {
		topics = append(topics, TopicAnnouncements)
	}
	s.broadcast(ctx, id, topics...)
	return vote, nil
}

// resolveSelections maps selections onto canonical option spellings and
// enforces the poll's selection rules.
func resolveSelections(poll *PollPayload, selections []string) ([]string, error) {
	final := make([]string, 0, len(selections))
	for _, raw := range selections {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		canonical, ok := findFold(poll.Options, raw)
		if !ok {
			return nil, validationf("%q is not a poll option", raw)
		}
		if _, dup := findFold(final, canonical); dup {
			continue
		}
		final = append(final, canonical)
	}
	if len(final) == 0 {
		return nil, validationf("select at least one option")
	}
	if len(final) > poll.MaxSelections {
		return nil, validationf("at most %d selections allowed", poll.MaxSelections)
	}
	return final, nil
}

// MyPollVote returns the voter's current vote, or nil when they have not voted.
func (s *Service) MyPollVote(ctx context.Context, id string, voter Identity) (*PollVote, error) {
	if voter.IsZero() {
		return nil, fmt.Errorf("%w: voter identity required", ErrUnauthorized)
	}
	activity, err := s.pollActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	vote, err := s.store.GetPollVote(ctx, id, voter.UserID)
	if err != nil || vote == nil {
		return vote, err
	}
	// Report selections in the poll's current spelling; drop removed options.
	options := activity.Poll().Options
	current := make([]string, 0, len(vote.Selections))
	for _, selection := range vote.Selections {
		if canonical, ok := findFold(options, selection); ok {
			current = append(current, canonical)
		}
	}
	vote.Selections = current
	return vote, nil
}

// PollResults tallies the poll without voter identities.
func (s *Service) PollResults(ctx context.Context, id string) (*PollResults, error) {
	return s.pollResults(ctx, id, false)
}

// PollResultsBreakdown tallies the poll and lists voters per option. Callers
// must restrict it to privileged viewers.
func (s *Service) PollResultsBreakdown(ctx context.Context, id string) (*PollResults, error) {
	return s.pollResults(ctx, id, true)
}

func (s *Service) pollResults(ctx context.Context, id string, breakdown bool) (*PollResults, error) {
	activity, err := s.pollActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListPollVotes(ctx, id)
	if err != nil {
		return nil, err
	}
	poll := activity.Poll()
	results := tallyVotes(poll.Options, votes, breakdown)
	results.ActivityID = id
	results.Question = poll.Question
	results.Anonymous = poll.Anonymous
	return &results, nil
}

// tallyVotes counts votes per option, matching selections case-insensitively
// so a respelled option keeps its votes. Selections naming options no longer
// in the list are ignored.
func tallyVotes(options []string, votes []PollVote, breakdown bool) PollResults {
	index := make(map[string]int, len(options))
	tallies := make([]OptionTally, len(options))
	for i, option := range options {
		index[strings.ToLower(option)] = i
		tallies[i] = OptionTally{Option: option}
	}

	total := 0
	for _, vote := range votes {
		for _, selection := range vote.Selections {
			i, ok := index[strings.ToLower(selection)]
			if !ok {
				continue
			}
			tallies[i].Count++
			total++
			if breakdown {
				tallies[i].Voters = append(tallies[i].Voters, vote.VoterID)
			}
		}
	}
	return PollResults{Options: tallies, TotalVotes: total}
}

// ClosePoll stops a poll from accepting votes immediately.
func (s *Service) ClosePoll(ctx context.Context, id string, caller Identity) (*Activity, error) {
	if caller.IsZero() {
		return nil, fmt.Errorf("%w: identity required", ErrUnauthorized)
	}
	activity, err := s.pollActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	poll := activity.Poll()
	if poll.ClosesAt != nil && !poll.ClosesAt.After(now) {
		return activity, nil
	}
	// The close time has to stay after publishAt.
	if !activity.PublishAt.Before(now) {
		return nil, validationf("poll has not been published yet")
	}

	updated := activity.Clone()
	updated.Poll().ClosesAt = &now
	updated.UpdatedAt = now
	if err := s.store.UpdateActivity(ctx, updated); err != nil {
		return nil, err
	}
	updated.Version++
	s.broadcast(ctx, id, TopicAnnouncements, TopicPollVotes)
	return &updated, nil
}

func (s *Service) pollActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrNotFound
	}
	if activity.Poll() == nil {
		return nil, validationf("activity is not a poll")
	}
	return activity, nil
}
