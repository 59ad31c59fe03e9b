package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the variant payload carried by an activity.
type EventType string

const (
	EventTypeAnnouncement EventType = "announcement"
	EventTypePoll         EventType = "poll"
	EventTypeVoting       EventType = "voting"
	EventTypeForm         EventType = "form"
)

// Valid reports whether the event type is one of the known variants.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeAnnouncement, EventTypePoll, EventTypeVoting, EventTypeForm:
		return true
	}
	return false
}

// Status is the lifecycle state of an activity.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// LeaderboardMode controls how voting participants are grouped when ranked.
type LeaderboardMode string

const (
	LeaderboardAll            LeaderboardMode = "all"
	LeaderboardGroup          LeaderboardMode = "group"
	LeaderboardGroupPortfolio LeaderboardMode = "group_portfolio"
)

// SubmissionLimit controls how many times a member may submit a form.
type SubmissionLimit string

const (
	SubmissionUnlimited SubmissionLimit = "unlimited"
	SubmissionOnce      SubmissionLimit = "once"
)

// Activity is the persisted unit of schedulable content. Variant specific data
// lives in Payload, whose concrete type always matches EventType.
type Activity struct {
	ID            string
	EventType     EventType
	Title         string
	Description   string
	ImageIDs      []string
	PublishAt     time.Time
	Status        Status
	AutoDeleteAt  *time.Time
	AutoArchiveAt *time.Time
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
	Payload       Payload
}

// Payload is implemented by the variant payload types.
type Payload interface {
	EventType() EventType
}

// AnnouncementPayload is empty; announcements only use the common envelope.
type AnnouncementPayload struct{}

// PollPayload holds the poll configuration and its authoritative option list.
type PollPayload struct {
	Question               string     `json:"question"`
	Options                []string   `json:"options"`
	Anonymous              bool       `json:"anonymous"`
	AllowAdditionalOptions bool       `json:"allowAdditionalOptions"`
	MaxSelections          int        `json:"maxSelections"`
	ClosesAt               *time.Time `json:"closesAt,omitempty"`
}

// VotingPayload configures a weighted voting event.
type VotingPayload struct {
	Participants      []Participant   `json:"participants"`
	AddVotePrice      float64         `json:"addVotePrice"`
	RemoveVotePrice   *float64        `json:"removeVotePrice,omitempty"`
	AddVoteLimit      *int            `json:"addVoteLimit,omitempty"`
	RemoveVoteLimit   *int            `json:"removeVoteLimit,omitempty"`
	AllowedGroups     []string        `json:"allowedGroups"`
	AllowedPortfolios []string        `json:"allowedPortfolios"`
	AllowUngrouped    bool            `json:"allowUngrouped"`
	AllowRemovals     bool            `json:"allowRemovals"`
	LeaderboardMode   LeaderboardMode `json:"leaderboardMode"`
}

// Participant is a roster member holding a vote balance in a voting activity.
type Participant struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Group     string `json:"group,omitempty"`
	Portfolio string `json:"portfolio,omitempty"`
	Votes     int    `json:"votes"`
}

// FormPayload holds the question schema of a form activity.
type FormPayload struct {
	Questions       []Question      `json:"questions"`
	SubmissionLimit SubmissionLimit `json:"submissionLimit"`
	Price           *float64        `json:"price,omitempty"`
}

func (AnnouncementPayload) EventType() EventType { return EventTypeAnnouncement }
func (*PollPayload) EventType() EventType        { return EventTypePoll }
func (*VotingPayload) EventType() EventType      { return EventTypeVoting }
func (*FormPayload) EventType() EventType        { return EventTypeForm }

// Poll returns the poll payload or nil when the activity is not a poll.
func (a *Activity) Poll() *PollPayload {
	p, _ := a.Payload.(*PollPayload)
	return p
}

// Voting returns the voting payload or nil when the activity is not a voting event.
func (a *Activity) Voting() *VotingPayload {
	p, _ := a.Payload.(*VotingPayload)
	return p
}

// Form returns the form payload or nil when the activity is not a form.
func (a *Activity) Form() *FormPayload {
	p, _ := a.Payload.(*FormPayload)
	return p
}

// AcceptingInput reports whether members can interact with the activity at now.
func (a *Activity) AcceptingInput(now time.Time) bool {
	if a.Status == StatusArchived {
		return false
	}
	return !a.PublishAt.After(now)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (a Activity) Clone() Activity {
	out := a
	out.ImageIDs = append([]string(nil), a.ImageIDs...)
	out.AutoDeleteAt = cloneTime(a.AutoDeleteAt)
	out.AutoArchiveAt = cloneTime(a.AutoArchiveAt)
	switch p := a.Payload.(type) {
	case *PollPayload:
		c := *p
		c.Options = append([]string(nil), p.Options...)
		c.ClosesAt = cloneTime(p.ClosesAt)
		out.Payload = &c
	case *VotingPayload:
		c := *p
		c.Participants = append([]Participant(nil), p.Participants...)
		c.AllowedGroups = append([]string(nil), p.AllowedGroups...)
		c.AllowedPortfolios = append([]string(nil), p.AllowedPortfolios...)
		c.RemoveVotePrice = cloneFloat(p.RemoveVotePrice)
		c.AddVoteLimit = cloneInt(p.AddVoteLimit)
		c.RemoveVoteLimit = cloneInt(p.RemoveVoteLimit)
		out.Payload = &c
	case *FormPayload:
		c := *p
		c.Price = cloneFloat(p.Price)
		c.Questions = make([]Question, len(p.Questions))
		for i, q := range p.Questions {
			c.Questions[i] = q.clone()
		}
		out.Payload = &c
	}
	return out
}

// EncodePayload serialises the variant payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the variant payload stored for the given event type.
func DecodePayload(t EventType, raw []byte) (Payload, error) {
	var target Payload
	switch t {
	case EventTypeAnnouncement:
		return AnnouncementPayload{}, nil
	case EventTypePoll:
		target = &PollPayload{}
	case EventTypeVoting:
		target = &VotingPayload{}
	case EventTypeForm:
		target = &FormPayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", t)
	}
	if len(raw) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return target, nil
}

// PollVote is the single current vote of a voter in a poll.
type PollVote struct {
	ActivityID string
	VoterID    string
	Selections []string
	UpdatedAt  time.Time
}

// PurchaseLedger tracks the lifetime votes bought or removed by one purchaser.
type PurchaseLedger struct {
	ActivityID           string
	PurchaserID          string
	AddVotesPurchased    int
	RemoveVotesPurchased int
	UpdatedAt            time.Time
}

// FormSubmission is one accepted set of answers for a form activity.
type FormSubmission struct {
	ID         string
	ActivityID string
	UserID     string
	Answers    []AnswerRecord
	Payment    *PaymentRecord
	CreatedAt  time.Time
}

// AnswerRecord is a validated answer with a snapshot of the question it answered.
type AnswerRecord struct {
	QuestionID   string       `json:"questionId"`
	QuestionType QuestionType `json:"questionType"`
	Prompt       string       `json:"prompt"`
	Values       []string     `json:"values"`
	Number       *float64     `json:"number,omitempty"`
}

// PaymentRecord keeps the payment reference attached to a submission.
type PaymentRecord struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

// Cursor models the pagination token for submissions.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Identity is the authenticated caller. A zero UserID means no identity.
type Identity struct {
	UserID string
	Name   string
}

// IsZero reports whether the identity is absent.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
