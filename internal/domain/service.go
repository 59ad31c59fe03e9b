// Package domain defines the business logic for scheduled community activities.
package domain

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"example.com/bulletin/internal/observability"
)

// Service orchestrates the activity lifecycle and member interactions.
type Service struct {
	store       Store
	roster      RosterProvider
	notifier    Notifier
	objects     ObjectReleaser
	broadcaster Broadcaster
	now         func() time.Time
	logger      *log.Logger
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithRoster sets the roster provider used for voting and user_select questions.
func WithRoster(r RosterProvider) Option {
	return func(s *Service) { s.roster = r }
}

// WithNotifier sets the publication notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithObjectReleaser sets the object storage releaser for activity images.
func WithObjectReleaser(r ObjectReleaser) Option {
	return func(s *Service) { s.objects = r }
}

// WithBroadcaster sets the invalidation broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger used to report best-effort failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		roster:      noopRoster{},
		notifier:    noopNotifier{},
		objects:     noopReleaser{},
		broadcaster: noopBroadcaster{},
		now:         time.Now,
		logger:      log.New(log.Writer(), "[activities] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MutationResult is returned by create and update.
type MutationResult struct {
	ID     string
	Status Status
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreateActivity validates the draft and stores a new activity.
func (s *Service) CreateActivity(ctx context.Context, author Identity, draft Draft) (*MutationResult, error) {
	if author.IsZero() {
		return nil, fmt.Errorf("%w: author identity required", ErrUnauthorized)
	}
	normalized, err := normalizeDraft(draft, nil)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	activity := Activity{
		ID:            uuid.NewString(),
		EventType:     normalized.EventType,
		Title:         normalized.Title,
		Description:   normalized.Description,
		ImageIDs:      normalized.ImageIDs,
		PublishAt:     normalized.PublishAt,
		Status:        statusFor(normalized.PublishAt, now),
		AutoDeleteAt:  normalized.AutoDeleteAt,
		AutoArchiveAt: normalized.AutoArchiveAt,
		CreatedBy:     author.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
		Payload:       normalized.Payload,
	}

	if err := s.store.InsertActivity(ctx, activity); err != nil {
		return nil, err
	}

	if activity.Status == StatusPublished {
		s.notifyPublished(ctx, activity)
	}
	s.broadcast(ctx, activity.ID, topicsFor(activity.EventType)...)
	return &MutationResult{ID: activity.ID, Status: activity.Status}, nil
}

// UpdateActivity re-validates the draft against the stored activity and saves it.
func (s *Service) UpdateActivity(ctx context.Context, id string, editor Identity, draft Draft) (*MutationResult, error) {
	if editor.IsZero() {
		return nil, fmt.Errorf("%w: editor identity required", ErrUnauthorized)
	}
	existing, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if draft.EventType != existing.EventType {
		return nil, validationf("event type cannot change from %s to %s", existing.EventType, draft.EventType)
	}

	normalized, err := normalizeDraft(draft, existing.Payload)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	status := statusFor(normalized.PublishAt, now)
	if existing.Status == StatusArchived && normalized.PublishAt.Equal(existing.PublishAt) {
		status = StatusArchived
	}

	updated := existing.Clone()
	updated.Title = normalized.Title
	updated.Description = normalized.Description
	updated.ImageIDs = normalized.ImageIDs
	updated.PublishAt = normalized.PublishAt
	updated.AutoDeleteAt = normalized.AutoDeleteAt
	updated.AutoArchiveAt = normalized.AutoArchiveAt
	updated.Payload = normalized.Payload
	updated.Status = status
	updated.UpdatedAt = now

	if err := s.store.UpdateActivity(ctx, updated); err != nil {
		return nil, err
	}

	s.releaseImages(ctx, updated.ID, removedImages(existing.ImageIDs, updated.ImageIDs))
	if existing.Status != StatusPublished && status == StatusPublished {
		s.notifyPublished(ctx, updated)
	}
	s.broadcast(ctx, updated.ID, topicsFor(updated.EventType)...)
	return &MutationResult{ID: updated.ID, Status: status}, nil
}

// GetActivity fetches an activity by id. Live voting events are reconciled
// against the current roster in the returned copy only.
func (s *Service) GetActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrNotFound
	}
	if voting := activity.Voting(); voting != nil && activity.Status != StatusArchived {
		users, err := s.roster.ListUsers(ctx)
		if err != nil {
			s.logger.Printf("roster lookup failed (activity=%s): %v", id, err)
			return activity, nil
		}
		reconcileParticipants(voting, users)
	}
	return activity, nil
}

// ListPublished returns visible activities, newest first. Scheduled rows whose
// publish time has passed are reported as published without being persisted.
func (s *Service) ListPublished(ctx context.Context) ([]Activity, error) {
	now := s.clock()
	published, err := s.store.ListActivities(ctx, ActivityFilter{Statuses: []Status{StatusPublished}})
	if err != nil {
		return nil, err
	}
	due, err := s.store.ListActivities(ctx, ActivityFilter{Statuses: []Status{StatusScheduled}, PublishAtOrBefore: &now})
	if err != nil {
		return nil, err
	}
	for i := range due {
		due[i].Status = StatusPublished
	}
	out := append(published, due...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishAt.After(out[j].PublishAt) })
	return out, nil
}

// ListScheduled returns activities still waiting for publication, soonest first.
func (s *Service) ListScheduled(ctx context.Context) ([]Activity, error) {
	now := s.clock()
	out, err := s.store.ListActivities(ctx, ActivityFilter{Statuses: []Status{StatusScheduled}, PublishAfter: &now})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishAt.Before(out[j].PublishAt) })
	return out, nil
}

// ListArchived returns archived activities, newest first.
func (s *Service) ListArchived(ctx context.Context) ([]Activity, error) {
	out, err := s.store.ListActivities(ctx, ActivityFilter{Statuses: []Status{StatusArchived}})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishAt.After(out[j].PublishAt) })
	return out, nil
}

// RemoveActivity deletes an activity with all votes, ledgers and submissions
// and releases its images.
func (s *Service) RemoveActivity(ctx context.Context, id string, caller Identity) error {
	if caller.IsZero() {
		return fmt.Errorf("%w: identity required", ErrUnauthorized)
	}
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	if activity == nil {
		return ErrNotFound
	}
	deleted, err := s.cascadeDelete(ctx, *activity, 0)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// ArchiveActivity marks the activity archived, keeping its sub-records.
func (s *Service) ArchiveActivity(ctx context.Context, id string, caller Identity) (*MutationResult, error) {
	if caller.IsZero() {
		return nil, fmt.Errorf("%w: identity required", ErrUnauthorized)
	}
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrNotFound
	}
	if activity.Status == StatusArchived {
		return &MutationResult{ID: id, Status: StatusArchived}, nil
	}
	ok, err := s.store.SetStatus(ctx, id, activity.Version, StatusArchived, s.clock())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: activity changed concurrently", ErrConflict)
	}
	s.broadcast(ctx, id, topicsFor(activity.EventType)...)
	return &MutationResult{ID: id, Status: StatusArchived}, nil
}

// cascadeDelete removes the row and dependents, then releases images. It
// reports false when the row was already gone or had a different version.
func (s *Service) cascadeDelete(ctx context.Context, activity Activity, expectedVersion int64) (bool, error) {
	deleted, err := s.store.DeleteActivity(ctx, activity.ID, expectedVersion)
	if err != nil || !deleted {
		return false, err
	}
	s.releaseImages(ctx, activity.ID, activity.ImageIDs)
	s.broadcast(ctx, activity.ID, topicsFor(activity.EventType)...)
	return true, nil
}

func (s *Service) notifyPublished(ctx context.Context, a Activity) {
	notice := PublishedNotice{ActivityID: a.ID, Title: a.Title, EventType: a.EventType, PublishAt: a.PublishAt}
	if err := s.notifier.NotifyPublished(ctx, notice); err != nil {
		observability.RecordSideEffectFailure("notify")
		s.logger.Printf("publish notification failed (activity=%s): %v", a.ID, err)
	}
}

func (s *Service) releaseImages(ctx context.Context, activityID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.objects.ReleaseObjects(ctx, ids); err != nil {
		observability.RecordSideEffectFailure("release")
		s.logger.Printf("image release failed (activity=%s, images=%v): %v", activityID, ids, err)
	}
}

func (s *Service) broadcast(ctx context.Context, activityID string, topics ...Topic) {
	if err := s.broadcaster.Broadcast(ctx, Invalidation{ActivityID: activityID, Topics: topics}); err != nil {
		observability.RecordSideEffectFailure("broadcast")
		s.logger.Printf("broadcast failed (activity=%s, topics=%v): %v", activityID, topics, err)
	}
}

// topicsFor lists the live-query topics touched by a change to an activity of type t.
func topicsFor(t EventType) []Topic {
	switch t {
	case EventTypePoll:
		return []Topic{TopicAnnouncements, TopicPollVotes}
	case EventTypeVoting:
		return []Topic{TopicAnnouncements, TopicVoting}
	case EventTypeForm:
		return []Topic{TopicAnnouncements, TopicFormSubmissions}
	}
	return []Topic{TopicAnnouncements}
}

func removedImages(before, after []string) []string {
	var out []string
	for _, id := range before {
		if !slices.Contains(after, id) {
			out = append(out, id)
		}
	}
	return out
}
