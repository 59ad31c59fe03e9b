package domain

import (
	"context"
	"time"
)

// ActivityFilter selects activities by status, type and due times. Zero fields do not filter.
type ActivityFilter struct {
	Statuses              []Status
	EventType             EventType
	PublishAtOrBefore     *time.Time
	PublishAfter          *time.Time
	AutoDeleteAtOrBefore  *time.Time
	AutoArchiveAtOrBefore *time.Time
}

// PollVoteFunc builds a voter's new vote from the locked activity. It may
// append poll options, in which case it reports modified=true.
type PollVoteFunc func(a *Activity) (vote PollVote, modified bool, err error)

// PurchaseFunc applies a vote purchase to the locked activity and returns the
// purchaser's updated ledger row.
type PurchaseFunc func(a *Activity, ledger PurchaseLedger) (PurchaseLedger, error)

// Store persists activities and their dependent records.
//
// GetActivity returns nil, nil when the row does not exist. Writes guarded by
// an expected version report false (or ErrConflict for UpdateActivity) when
// the stored row has moved on. DeleteActivity removes the activity together
// with its votes, ledgers and submissions; an expected version of zero deletes
// unconditionally.
type Store interface {
	InsertActivity(ctx context.Context, a Activity) error
	GetActivity(ctx context.Context, id string) (*Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
	UpdateActivity(ctx context.Context, a Activity) error
	SetStatus(ctx context.Context, id string, expectedVersion int64, status Status, at time.Time) (bool, error)
	DeleteActivity(ctx context.Context, id string, expectedVersion int64) (bool, error)

	CastPollVote(ctx context.Context, activityID string, fn PollVoteFunc) (*PollVote, error)
	GetPollVote(ctx context.Context, activityID, voterID string) (*PollVote, error)
	ListPollVotes(ctx context.Context, activityID string) ([]PollVote, error)

	ApplyVotePurchase(ctx context.Context, activityID, purchaserID string, fn PurchaseFunc) (*Activity, error)
	GetPurchaseLedger(ctx context.Context, activityID, purchaserID string) (PurchaseLedger, error)

	HasFormSubmission(ctx context.Context, activityID, userID string) (bool, error)
	InsertFormSubmission(ctx context.Context, sub FormSubmission, singlePerUser bool) error
	ListFormSubmissions(ctx context.Context, activityID string, cursor *Cursor, limit int) ([]FormSubmission, *Cursor, error)
}

// RosterUser is a member as known by the identity provider.
type RosterUser struct {
	UserID       string `json:"userId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Group        string `json:"group,omitempty"`
	Portfolio    string `json:"portfolio,omitempty"`
	RankCategory string `json:"rankCategory,omitempty"`
	Rank         string `json:"rank,omitempty"`
	Role         string `json:"role"`
	Team         string `json:"team,omitempty"`
}

// RosterProvider lists the current member roster. Caching providers must
// skip their cache when FreshRosterRequested(ctx) is true.
type RosterProvider interface {
	ListUsers(ctx context.Context) ([]RosterUser, error)
}

type freshRosterKey struct{}

// WithFreshRoster marks ctx so roster lookups made with it bypass caches.
func WithFreshRoster(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshRosterKey{}, true)
}

// FreshRosterRequested reports whether ctx was marked by WithFreshRoster.
func FreshRosterRequested(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshRosterKey{}).(bool)
	return fresh
}

// PublishedNotice is sent when an activity becomes visible to members.
type PublishedNotice struct {
	ActivityID string
	Title      string
	EventType  EventType
	PublishAt  time.Time
}

// Notifier delivers publication notices. Failures are logged by the caller.
type Notifier interface {
	NotifyPublished(ctx context.Context, notice PublishedNotice) error
}

// ObjectReleaser frees stored objects (images) owned by an activity.
type ObjectReleaser interface {
	ReleaseObjects(ctx context.Context, ids []string) error
}

// Topic names a live-query group that consumers refresh on change.
type Topic string

const (
	TopicAnnouncements   Topic = "announcements"
	TopicPollVotes       Topic = "pollVotes"
	TopicVoting          Topic = "voting"
	TopicFormSubmissions Topic = "formSubmissions"
)

// Invalidation announces that the listed topics changed.
type Invalidation struct {
	ActivityID string  `json:"activity_id,omitempty"`
	Topics     []Topic `json:"topics"`
}

// Broadcaster publishes invalidations without delivery guarantees.
type Broadcaster interface {
	Broadcast(ctx context.Context, inv Invalidation) error
}

type noopRoster struct{}

func (noopRoster) ListUsers(context.Context) ([]RosterUser, error) { return nil, nil }

type noopNotifier struct{}

func (noopNotifier) NotifyPublished(context.Context, PublishedNotice) error { return nil }

type noopReleaser struct{}

func (noopReleaser) ReleaseObjects(context.Context, []string) error { return nil }

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, Invalidation) error { return nil }
