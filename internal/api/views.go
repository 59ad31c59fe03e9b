package api

import (
	"strings"
	"time"

	"example.com/bulletin/internal/domain"
)

// ActivityRequest is the payload for POST /v1/activities and PUT /v1/activities/{id}.
// Only the variant block matching event_type is read.
type ActivityRequest struct {
	EventType     string                `json:"event_type"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	ImageIDs      []string              `json:"image_ids"`
	PublishAt     time.Time             `json:"publish_at"`
	AutoDeleteAt  *time.Time            `json:"auto_delete_at,omitempty"`
	AutoArchiveAt *time.Time            `json:"auto_archive_at,omitempty"`
	Poll          *domain.PollPayload   `json:"poll,omitempty"`
	Voting        *domain.VotingPayload `json:"voting,omitempty"`
	Form          *domain.FormPayload   `json:"form,omitempty"`
}

func (r ActivityRequest) toDraft() domain.Draft {
	d := domain.Draft{
		EventType:     domain.EventType(strings.TrimSpace(r.EventType)),
		Title:         r.Title,
		Description:   r.Description,
		ImageIDs:      r.ImageIDs,
		PublishAt:     r.PublishAt,
		AutoDeleteAt:  r.AutoDeleteAt,
		AutoArchiveAt: r.AutoArchiveAt,
	}
	switch d.EventType {
	case domain.EventTypeAnnouncement:
		d.Payload = domain.AnnouncementPayload{}
	case domain.EventTypePoll:
		if r.Poll != nil {
			d.Payload = r.Poll
		}
	case domain.EventTypeVoting:
		if r.Voting != nil {
			d.Payload = r.Voting
		}
	case domain.EventTypeForm:
		if r.Form != nil {
			d.Payload = r.Form
		}
	}
	return d
}

// MutationResponse describes the response body for create, update and archive.
type MutationResponse struct {
	ActivityID string `json:"activity_id"`
	Status     string `json:"status"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID    string         `json:"activity_id"`
	EventType     string         `json:"event_type"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	ImageIDs      []string       `json:"image_ids"`
	PublishAt     time.Time      `json:"publish_at"`
	Status        string         `json:"status"`
	AutoDeleteAt  *time.Time     `json:"auto_delete_at,omitempty"`
	AutoArchiveAt *time.Time     `json:"auto_archive_at,omitempty"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Version       int64          `json:"version"`
	Payload       domain.Payload `json:"payload,omitempty"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

func toActivityView(a domain.Activity) ActivityView {
	images := a.ImageIDs
	if images == nil {
		images = []string{}
	}
	return ActivityView{
		ActivityID:    a.ID,
		EventType:     string(a.EventType),
		Title:         a.Title,
		Description:   a.Description,
		ImageIDs:      images,
		PublishAt:     a.PublishAt,
		Status:        string(a.Status),
		AutoDeleteAt:  a.AutoDeleteAt,
		AutoArchiveAt: a.AutoArchiveAt,
		CreatedBy:     a.CreatedBy,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		Version:       a.Version,
		Payload:       a.Payload,
	}
}

// VoteRequest is the payload for POST /v1/activities/{id}/votes.
type VoteRequest struct {
	Selections []string `json:"selections"`
	NewOption  string   `json:"new_option,omitempty"`
}

// VoteView is a voter's current poll vote.
type VoteView struct {
	ActivityID string    `json:"activity_id"`
	VoterID    string    `json:"voter_id"`
	Selections []string  `json:"selections"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toVoteView(v domain.PollVote) VoteView {
	return VoteView{ActivityID: v.ActivityID, VoterID: v.VoterID, Selections: v.Selections, UpdatedAt: v.UpdatedAt}
}

// ResultsView is the tally of a poll.
type ResultsView struct {
	ActivityID string       `json:"activity_id"`
	Question   string       `json:"question"`
	Anonymous  bool         `json:"anonymous"`
	TotalVotes int          `json:"total_votes"`
	Options    []TallyEntry `json:"options"`
}

// TallyEntry is one option of a poll tally. Voters is only set for breakdowns.
type TallyEntry struct {
	Option string   `json:"option"`
	Count  int      `json:"count"`
	Voters []string `json:"voters,omitempty"`
}

func toResultsView(r domain.PollResults) ResultsView {
	out := ResultsView{
		ActivityID: r.ActivityID,
		Question:   r.Question,
		Anonymous:  r.Anonymous,
		TotalVotes: r.TotalVotes,
		Options:    make([]TallyEntry, 0, len(r.Options)),
	}
	for _, o := range r.Options {
		out.Options = append(out.Options, TallyEntry{Option: o.Option, Count: o.Count, Voters: o.Voters})
	}
	return out
}

// PurchaseRequest is the payload for POST /v1/activities/{id}/purchases.
// Counts are coerced to whole non-negative numbers.
type PurchaseRequest struct {
	Adjustments []struct {
		UserID string  `json:"user_id"`
		Add    float64 `json:"add"`
		Remove float64 `json:"remove"`
	} `json:"adjustments"`
}

func (r PurchaseRequest) toAdjustments() []domain.VoteAdjustment {
	out := make([]domain.VoteAdjustment, 0, len(r.Adjustments))
	for _, adj := range r.Adjustments {
		out = append(out, domain.VoteAdjustment{
			UserID: adj.UserID,
			Add:    domain.CoerceVoteCount(adj.Add),
			Remove: domain.CoerceVoteCount(adj.Remove),
		})
	}
	return out
}

// PurchaseResponse reports a vote purchase outcome.
type PurchaseResponse struct {
	Success      bool                 `json:"success"`
	Cost         float64              `json:"cost"`
	Participants []domain.Participant `json:"participants,omitempty"`
	Ledger       LedgerView           `json:"ledger"`
}

// LedgerView is a purchaser's lifetime purchase totals.
type LedgerView struct {
	AddVotesPurchased    int  `json:"add_votes_purchased"`
	RemoveVotesPurchased int  `json:"remove_votes_purchased"`
	RemainingAdd         *int `json:"remaining_add,omitempty"`
	RemainingRemove      *int `json:"remaining_remove,omitempty"`
}

// LeaderboardView is one ranked group of participants.
type LeaderboardView struct {
	Group     string               `json:"group"`
	Portfolio string               `json:"portfolio,omitempty"`
	Entries   []domain.Participant `json:"entries"`
}

// SubmissionRequest is the payload for POST /v1/activities/{id}/submissions
// and /v1/activities/{id}/quote. Payment is ignored when quoting.
type SubmissionRequest struct {
	Answers []struct {
		QuestionID string   `json:"question_id"`
		Values     []string `json:"values"`
	} `json:"answers"`
	Payment *struct {
		Reference string  `json:"reference"`
		Amount    float64 `json:"amount"`
	} `json:"payment,omitempty"`
}

func (r SubmissionRequest) toAnswers() []domain.AnswerInput {
	out := make([]domain.AnswerInput, 0, len(r.Answers))
	for _, a := range r.Answers {
		out = append(out, domain.AnswerInput{QuestionID: a.QuestionID, Values: a.Values})
	}
	return out
}

func (r SubmissionRequest) toProof() *domain.PaymentProof {
	if r.Payment == nil {
		return nil
	}
	return &domain.PaymentProof{Reference: r.Payment.Reference, Amount: r.Payment.Amount}
}

// SubmissionView is a stored form submission.
type SubmissionView struct {
	SubmissionID string                `json:"submission_id"`
	ActivityID   string                `json:"activity_id"`
	UserID       string                `json:"user_id"`
	Answers      []domain.AnswerRecord `json:"answers"`
	Payment      *domain.PaymentRecord `json:"payment,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func toSubmissionView(s domain.FormSubmission) SubmissionView {
	return SubmissionView{
		SubmissionID: s.ID,
		ActivityID:   s.ActivityID,
		UserID:       s.UserID,
		Answers:      s.Answers,
		Payment:      s.Payment,
		CreatedAt:    s.CreatedAt,
	}
}

// ListSubmissionsResponse packages a page of submissions.
type ListSubmissionsResponse struct {
	Items      []SubmissionView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// QuoteResponse carries the server-computed form price.
type QuoteResponse struct {
	Total float64 `json:"total"`
}

// SweepResponse reports an on-demand sweep.
type SweepResponse struct {
	Published int `json:"published"`
	Deleted   int `json:"deleted"`
	Archived  int `json:"archived"`
	Failed    int `json:"failed"`
}

func domainVote(r VoteRequest) domain.VoteInput {
	return domain.VoteInput{Selections: r.Selections, NewOption: r.NewOption}
}
