package domain

import (
	"math"
	"strings"
	"time"
)

const (
	maxImages      = 5
	maxFormEntries = 5
)

// Draft is the author-supplied content of an activity for create and update.
type Draft struct {
	EventType     EventType
	Title         string
	Description   string
	ImageIDs      []string
	PublishAt     time.Time
	AutoDeleteAt  *time.Time
	AutoArchiveAt *time.Time
	Payload       Payload
}

// normalizeDraft validates the draft and returns its canonical form. previous is
// the stored payload when editing, used to merge voting participants.
func normalizeDraft(d Draft, previous Payload) (Draft, error) {
	if !d.EventType.Valid() {
		return Draft{}, validationf("unknown event type %q", d.EventType)
	}
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return Draft{}, validationf("title is required")
	}
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" && d.EventType != EventTypePoll && d.EventType != EventTypeVoting {
		return Draft{}, validationf("description is required")
	}
	if d.PublishAt.IsZero() {
		return Draft{}, validationf("publishAt is required")
	}
	d.PublishAt = d.PublishAt.UTC()
	if err := validateAutomation(d.PublishAt, d.AutoDeleteAt, d.AutoArchiveAt); err != nil {
		return Draft{}, err
	}
	d.AutoDeleteAt = utcPtr(d.AutoDeleteAt)
	d.AutoArchiveAt = utcPtr(d.AutoArchiveAt)

	d.ImageIDs = dedupeExact(d.ImageIDs)
	if len(d.ImageIDs) > maxImages {
		return Draft{}, validationf("at most %d images are allowed", maxImages)
	}

	payload, err := normalizePayload(d.EventType, d.Payload, previous, d.PublishAt)
	if err != nil {
		return Draft{}, err
	}
	d.Payload = payload
	return d, nil
}

func validateAutomation(publishAt time.Time, deleteAt, archiveAt *time.Time) error {
	if deleteAt != nil && archiveAt != nil {
		return validationf("autoDeleteAt and autoArchiveAt cannot both be set")
	}
	if deleteAt != nil && !deleteAt.After(publishAt) {
		return validationf("autoDeleteAt must be after publishAt")
	}
	if archiveAt != nil && !archiveAt.After(publishAt) {
		return validationf("autoArchiveAt must be after publishAt")
	}
	return nil
}

func normalizePayload(t EventType, p Payload, previous Payload, publishAt time.Time) (Payload, error) {
	switch t {
	case EventTypeAnnouncement:
		return AnnouncementPayload{}, nil
	case EventTypePoll:
		poll, ok := p.(*PollPayload)
		if !ok || poll == nil {
			return nil, validationf("poll details are required")
		}
		return normalizePoll(*poll, publishAt)
	case EventTypeVoting:
		voting, ok := p.(*VotingPayload)
		if !ok || voting == nil {
			return nil, validationf("voting details are required")
		}
		prev, _ := previous.(*VotingPayload)
		return normalizeVoting(*voting, prev)
	case EventTypeForm:
		form, ok := p.(*FormPayload)
		if !ok || form == nil {
			return nil, validationf("form details are required")
		}
		return normalizeForm(*form)
	}
	return nil, validationf("unknown event type %q", t)
}

func normalizePoll(p PollPayload, publishAt time.Time) (*PollPayload, error) {
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" {
		return nil, validationf("poll question is required")
	}
	p.Options = dedupeFold(p.Options)
	if len(p.Options) < 2 {
		return nil, validationf("poll needs at least two distinct options")
	}
	if p.MaxSelections == 0 {
		p.MaxSelections = 1
	}
	if p.MaxSelections < 1 || p.MaxSelections > len(p.Options) {
		return nil, validationf("maxSelections must be between 1 and %d", len(p.Options))
	}
	if p.ClosesAt != nil {
		if !p.ClosesAt.After(publishAt) {
			return nil, validationf("poll close time must be after publishAt")
		}
		p.ClosesAt = utcPtr(p.ClosesAt)
	}
	return &p, nil
}

func normalizeVoting(p VotingPayload, previous *VotingPayload) (*VotingPayload, error) {
	existing := make(map[string]Participant)
	if previous != nil {
		for _, participant := range previous.Participants {
			existing[participant.UserID] = participant
		}
	}

	seen := make(map[string]struct{}, len(p.Participants))
	participants := make([]Participant, 0, len(p.Participants))
	for _, in := range p.Participants {
		id := strings.TrimSpace(in.UserID)
		if id == "" {
			return nil, validationf("participant userId is required")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		out := Participant{
			UserID:    id,
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Group:     strings.TrimSpace(in.Group),
			Portfolio: strings.TrimSpace(in.Portfolio),
		}
		switch {
		case previous == nil:
			out.Votes = max(in.Votes, 0)
		default:
			if prior, ok := existing[id]; ok {
				out.Votes = prior.Votes
			}
		}
		participants = append(participants, out)
	}
	p.Participants = participants

	if !validPrice(p.AddVotePrice) {
		return nil, validationf("add vote price must be a non-negative number")
	}
	if p.AllowRemovals {
		if p.RemoveVotePrice == nil {
			price := p.AddVotePrice
			p.RemoveVotePrice = &price
		}
		if !validPrice(*p.RemoveVotePrice) {
			return nil, validationf("remove vote price must be a non-negative number")
		}
	} else {
		p.RemoveVotePrice = nil
		p.RemoveVoteLimit = nil
	}
	if p.AddVoteLimit != nil && *p.AddVoteLimit < 0 {
		return nil, validationf("add vote limit cannot be negative")
	}
	if p.RemoveVoteLimit != nil && *p.RemoveVoteLimit < 0 {
		return nil, validationf("remove vote limit cannot be negative")
	}

	p.AllowedGroups = dedupeExact(p.AllowedGroups)
	p.AllowedPortfolios = dedupeExact(p.AllowedPortfolios)

	switch p.LeaderboardMode {
	case "":
		p.LeaderboardMode = LeaderboardAll
	case LeaderboardAll, LeaderboardGroup, LeaderboardGroupPortfolio:
	default:
		return nil, validationf("unknown leaderboard mode %q", p.LeaderboardMode)
	}
	return &p, nil
}

// statusFor derives the lifecycle status implied by publishAt at now.
func statusFor(publishAt, now time.Time) Status {
	if publishAt.After(now) {
		return StatusScheduled
	}
	return StatusPublished
}

func validPrice(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// dedupeFold trims values, drops blanks and removes case-insensitive
// duplicates, keeping the first spelling.
func dedupeFold(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := findFold(out, v); ok {
			continue
		}
		out = append(out, v)
	}
	return out
}

func dedupeExact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// findFold returns the canonical entry matching v case-insensitively.
func findFold(list []string, v string) (string, bool) {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return item, true
		}
	}
	return "", false
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
