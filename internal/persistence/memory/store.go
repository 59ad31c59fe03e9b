// Package memory provides an in-process Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"example.com/bulletin/internal/domain"
)

type ledgerKey struct {
	activityID  string
	purchaserID string
}

// Store keeps activities and their dependent records in memory. A single
// mutex serialises writers, which makes every callback-based operation a
// critical section for its activity.
type Store struct {
	mu          sync.RWMutex
	activities  map[string]domain.Activity
	pollVotes   map[string]map[string]domain.PollVote
	ledgers     map[ledgerKey]domain.PurchaseLedger
	submissions map[string][]domain.FormSubmission
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities:  make(map[string]domain.Activity),
		pollVotes:   make(map[string]map[string]domain.PollVote),
		ledgers:     make(map[ledgerKey]domain.PurchaseLedger),
		submissions: make(map[string][]domain.FormSubmission),
	}
}

// InsertActivity stores a new activity.
func (s *Store) InsertActivity(_ context.Context, a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activities[a.ID]; exists {
		return fmt.Errorf("%w: activity %s already exists", domain.ErrConflict, a.ID)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	s.activities[a.ID] = a.Clone()
	return nil
}

// GetActivity returns a copy of the activity or nil when it does not exist.
func (s *Store) GetActivity(_ context.Context, id string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, nil
	}
	out := a.Clone()
	return &out, nil
}

// ListActivities returns copies of the activities matching filter ordered by publish time.
func (s *Store) ListActivities(_ context.Context, filter domain.ActivityFilter) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Activity, 0)
	for _, a := range s.activities {
		if matches(a, filter) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishAt.Equal(out[j].PublishAt) {
			return out[i].PublishAt.Before(out[j].PublishAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matches(a domain.Activity, f domain.ActivityFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if f.EventType != "" && a.EventType != f.EventType {
		return false
	}
	if f.PublishAtOrBefore != nil && a.PublishAt.After(*f.PublishAtOrBefore) {
		return false
	}
	if f.PublishAfter != nil && !a.PublishAt.After(*f.PublishAfter) {
		return false
	}
	if f.AutoDeleteAtOrBefore != nil && (a.AutoDeleteAt == nil || a.AutoDeleteAt.After(*f.AutoDeleteAtOrBefore)) {
		return false
	}
	if f.AutoArchiveAtOrBefore != nil && (a.AutoArchiveAt == nil || a.AutoArchiveAt.After(*f.AutoArchiveAtOrBefore)) {
		return false
	}
	return true
}

// UpdateActivity replaces the activity when its version matches the stored one.
func (s *Store) UpdateActivity(_ context.Context, a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != a.Version {
		return fmt.Errorf("%w: activity %s was modified concurrently", domain.ErrConflict, a.ID)
	}
	a.Version++
	s.activities[a.ID] = a.Clone()
	return nil
}

// SetStatus transitions the activity when its version still equals expectedVersion.
func (s *Store) SetStatus(_ context.Context, id string, expectedVersion int64, status domain.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[id]
	if !ok || current.Version != expectedVersion {
		return false, nil
	}
	current.Status = status
	current.UpdatedAt = at
	current.Version++
	s.activities[id] = current
	return true, nil
}

// DeleteActivity removes the activity with its votes, ledgers and submissions.
func (s *Store) DeleteActivity(_ context.Context, id string, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[id]
	if !ok {
		return false, nil
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return false, nil
	}
	delete(s.activities, id)
	delete(s.pollVotes, id)
	delete(s.submissions, id)
	for key := range s.ledgers {
		if key.activityID == id {
			delete(s.ledgers, key)
		}
	}
	return true, nil
}

// CastPollVote runs fn against the locked poll and upserts the resulting vote.
func (s *Store) CastPollVote(_ context.Context, activityID string, fn domain.PollVoteFunc) (*domain.PollVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[activityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	working := current.Clone()
	vote, modified, err := fn(&working)
	if err != nil {
		return nil, err
	}
	if modified {
		working.Version = current.Version + 1
		s.activities[activityID] = working
	}
	votes, ok := s.pollVotes[activityID]
	if !ok {
		votes = make(map[string]domain.PollVote)
		s.pollVotes[activityID] = votes
	}
	vote.Selections = slices.Clone(vote.Selections)
	votes[vote.VoterID] = vote
	out := vote
	out.Selections = slices.Clone(vote.Selections)
	return &out, nil
}

// GetPollVote returns the voter's vote or nil.
func (s *Store) GetPollVote(_ context.Context, activityID, voterID string) (*domain.PollVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.pollVotes[activityID][voterID]
	if !ok {
		return nil, nil
	}
	vote.Selections = slices.Clone(vote.Selections)
	return &vote, nil
}

// ListPollVotes returns all votes of a poll ordered by voter.
func (s *Store) ListPollVotes(_ context.Context, activityID string) ([]domain.PollVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PollVote, 0, len(s.pollVotes[activityID]))
	for _, vote := range s.pollVotes[activityID] {
		vote.Selections = slices.Clone(vote.Selections)
		out = append(out, vote)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

// ApplyVotePurchase runs fn against the locked voting activity and the
// purchaser's ledger and stores both results together.
func (s *Store) ApplyVotePurchase(_ context.Context, activityID, purchaserID string, fn domain.PurchaseFunc) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[activityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	key := ledgerKey{activityID: activityID, purchaserID: purchaserID}
	ledger, ok := s.ledgers[key]
	if !ok {
		ledger = domain.PurchaseLedger{ActivityID: activityID, PurchaserID: purchaserID}
	}

	working := current.Clone()
	updated, err := fn(&working, ledger)
	if err != nil {
		return nil, err
	}
	working.Version = current.Version + 1
	s.activities[activityID] = working
	s.ledgers[key] = updated

	out := working.Clone()
	return &out, nil
}

// GetPurchaseLedger returns the purchaser's ledger, zero-valued when absent.
func (s *Store) GetPurchaseLedger(_ context.Context, activityID, purchaserID string) (domain.PurchaseLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.ledgers[ledgerKey{activityID: activityID, purchaserID: purchaserID}]
	if !ok {
		return domain.PurchaseLedger{ActivityID: activityID, PurchaserID: purchaserID}, nil
	}
	return ledger, nil
}

// HasFormSubmission reports whether the user has submitted the form.
func (s *Store) HasFormSubmission(_ context.Context, activityID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.submissions[activityID], func(sub domain.FormSubmission) bool {
		return sub.UserID == userID
	}), nil
}

// InsertFormSubmission appends a submission. With singlePerUser the insert
// fails when the user already submitted.
func (s *Store) InsertFormSubmission(_ context.Context, sub domain.FormSubmission, singlePerUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[sub.ActivityID]; !ok {
		return domain.ErrNotFound
	}
	existing := s.submissions[sub.ActivityID]
	if singlePerUser && slices.ContainsFunc(existing, func(e domain.FormSubmission) bool { return e.UserID == sub.UserID }) {
		return domain.ErrAlreadySubmitted
	}
	s.submissions[sub.ActivityID] = append(existing, cloneSubmission(sub))
	return nil
}

// ListFormSubmissions pages submissions by (CreatedAt, ID) ascending.
func (s *Store) ListFormSubmissions(_ context.Context, activityID string, cursor *domain.Cursor, limit int) ([]domain.FormSubmission, *domain.Cursor, error) {
	s.mu.RLock()
	all := make([]domain.FormSubmission, 0, len(s.submissions[activityID]))
	for _, sub := range s.submissions[activityID] {
		all = append(all, cloneSubmission(sub))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	out := make([]domain.FormSubmission, 0, limit)
	for _, sub := range all {
		if cursor != nil && !after(sub, *cursor) {
			continue
		}
		out = append(out, sub)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

func after(sub domain.FormSubmission, c domain.Cursor) bool {
	if sub.CreatedAt.Equal(c.CreatedAt) {
		return sub.ID > c.ID
	}
	return sub.CreatedAt.After(c.CreatedAt)
}

func cloneSubmission(sub domain.FormSubmission) domain.FormSubmission {
	out := sub
	out.Answers = make([]domain.AnswerRecord, len(sub.Answers))
	for i, a := range sub.Answers {
		a.Values = slices.Clone(a.Values)
		if a.Number != nil {
			n := *a.Number
			a.Number = &n
		}
		out.Answers[i] = a
	}
	if sub.Payment != nil {
		p := *sub.Payment
		out.Payment = &p
	}
	return out
}
