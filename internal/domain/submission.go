package domain

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"example.com/bulletin/internal/observability"
)

// AnswerInput is a raw answer to one question.
type AnswerInput struct {
	QuestionID string
	Values     []string
}

// PaymentProof is the client's claim of a captured payment.
type PaymentProof struct {
	Reference string
	Amount    float64
}

// SubmitForm validates answers against the stored schema, checks the payment
// against the computed price and records the submission.
func (s *Service) SubmitForm(ctx context.Context, id string, submitter Identity, answers []AnswerInput, proof *PaymentProof) (*FormSubmission, error) {
	if submitter.IsZero() {
		return nil, fmt.Errorf("%w: submitter identity required", ErrUnauthorized)
	}
	now := s.clock()
	activity, form, err := s.formActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !activity.AcceptingInput(now) {
		return nil, fmt.Errorf("%w: form is not accepting submissions", ErrClosed)
	}

	once := form.SubmissionLimit == SubmissionOnce
	if once {
		exists, err := s.store.HasFormSubmission(ctx, id, submitter.UserID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrAlreadySubmitted
		}
	}

	// Membership is checked against the live roster, not a cached copy.
	records, err := s.validateAnswers(WithFreshRoster(ctx), form, answers)
	if err != nil {
		return nil, err
	}

	total := computePrice(form, records)
	var payment *PaymentRecord
	if total > 0 {
		if proof == nil || strings.TrimSpace(proof.Reference) == "" {
			return nil, fmt.Errorf("%w: %.2f due", ErrPaymentRequired, total)
		}
		if !centsMatch(proof.Amount, total) {
			return nil, fmt.Errorf("%w: paid %.2f but %.2f is due", ErrPaymentRequired, proof.Amount, total)
		}
	}
	if proof != nil && strings.TrimSpace(proof.Reference) != "" {
		payment = &PaymentRecord{Reference: strings.TrimSpace(proof.Reference), Amount: proof.Amount}
	}

	sub := FormSubmission{
		ID:         uuid.NewString(),
		ActivityID: id,
		UserID:     submitter.UserID,
		Answers:    records,
		Payment:    payment,
		CreatedAt:  now,
	}
	if err := s.store.InsertFormSubmission(ctx, sub, once); err != nil {
		return nil, err
	}

	observability.RecordFormSubmission()
	s.broadcast(ctx, id, TopicFormSubmissions)
	return &sub, nil
}

// QuotePrice returns the total price the given answers would cost.
func (s *Service) QuotePrice(ctx context.Context, id string, answers []AnswerInput) (float64, error) {
	_, form, err := s.formActivity(ctx, id)
	if err != nil {
		return 0, err
	}
	records, err := s.validateAnswers(ctx, form, answers)
	if err != nil {
		return 0, err
	}
	return computePrice(form, records), nil
}

// ListSubmissions pages through the submissions of a form, oldest first.
func (s *Service) ListSubmissions(ctx context.Context, id string, cursor *Cursor, limit int) ([]FormSubmission, *Cursor, error) {
	if _, _, err := s.formActivity(ctx, id); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListFormSubmissions(ctx, id, cursor, limit)
}

func (s *Service) formActivity(ctx context.Context, id string) (*Activity, *FormPayload, error) {
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if activity == nil {
		return nil, nil, ErrNotFound
	}
	form := activity.Form()
	if form == nil {
		return nil, nil, validationf("activity is not a form")
	}
	return activity, form, nil
}

// validateAnswers checks every question of the form and returns one record
// per question in schema order. The roster is fetched only when a
// user_select question is present, so membership is checked as of now.
func (s *Service) validateAnswers(ctx context.Context, form *FormPayload, answers []AnswerInput) ([]AnswerRecord, error) {
	byQuestion := make(map[string][]string, len(answers))
	for _, a := range answers {
		id := strings.TrimSpace(a.QuestionID)
		if _, dup := byQuestion[id]; dup {
			return nil, validationf("question %q answered more than once", id)
		}
		byQuestion[id] = a.Values
	}
	for id := range byQuestion {
		if !slices.ContainsFunc(form.Questions, func(q Question) bool { return q.ID == id }) {
			return nil, validationf("unknown question %q", id)
		}
	}

	var users []RosterUser
	if slices.ContainsFunc(form.Questions, func(q Question) bool { return q.Type == QuestionUserSelect }) {
		list, err := s.roster.ListUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("roster lookup: %w", err)
		}
		users = list
	}

	records := make([]AnswerRecord, 0, len(form.Questions))
	for _, q := range form.Questions {
		values := nonBlank(byQuestion[q.ID])
		record := AnswerRecord{QuestionID: q.ID, QuestionType: q.Type, Prompt: q.Prompt, Values: []string{}}
		if len(values) == 0 {
			if q.Required {
				return nil, fmt.Errorf("%w: %q", ErrMissingAnswer, q.Prompt)
			}
			records = append(records, record)
			continue
		}

		var err error
		switch q.Type {
		case QuestionMultipleChoice:
			record.Values, err = validateMultipleChoice(q, values)
		case QuestionDropdown:
			record.Values, err = validateDropdown(q, values)
		case QuestionFreeText:
			record.Values, err = validateFreeText(q, values)
		case QuestionNumber:
			record.Values, record.Number, err = validateNumber(q, values)
		case QuestionUserSelect:
			record.Values, err = validateUserSelect(q, values, users)
		default:
			err = validationf("question %q has unknown type %q", q.Prompt, q.Type)
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func validateMultipleChoice(q Question, values []string) ([]string, error) {
	cfg := q.Choice
	out := make([]string, 0, len(values))
	for _, v := range values {
		canonical, ok := findFold(cfg.Options, v)
		if !ok {
			if !cfg.AllowAdditionalOptions {
				return nil, validationf("%q is not an option of %q", v, q.Prompt)
			}
			canonical = v
		}
		if _, dup := findFold(out, canonical); dup {
			continue
		}
		out = append(out, canonical)
	}
	if len(out) > cfg.MaxSelections {
		return nil, validationf("%q allows at most %d selections", q.Prompt, cfg.MaxSelections)
	}
	return out, nil
}

func validateDropdown(q Question, values []string) ([]string, error) {
	if len(values) != 1 {
		return nil, validationf("%q takes exactly one choice", q.Prompt)
	}
	canonical, ok := findFold(q.Choice.Options, values[0])
	if !ok {
		return nil, validationf("%q is not an option of %q", values[0], q.Prompt)
	}
	return []string{canonical}, nil
}

func validateFreeText(q Question, values []string) ([]string, error) {
	if len(values) != 1 {
		return nil, validationf("%q takes a single text answer", q.Prompt)
	}
	if utf8.RuneCountInString(values[0]) > q.FreeText.MaxLength {
		return nil, validationf("%q is limited to %d characters", q.Prompt, q.FreeText.MaxLength)
	}
	return values, nil
}

func validateNumber(q Question, values []string) ([]string, *float64, error) {
	if len(values) != 1 {
		return nil, nil, validationf("%q takes a single number", q.Prompt)
	}
	n, err := strconv.ParseFloat(values[0], 64)
	if err != nil || !finite(n) {
		return nil, nil, validationf("%q must be a number", q.Prompt)
	}
	cfg := q.Number
	if cfg.priced() && n < 0 {
		return nil, nil, validationf("%q cannot be negative", q.Prompt)
	}
	if !cfg.AllowAnyNumber {
		if cfg.Min != nil {
			if (cfg.IncludeMin && n < *cfg.Min) || (!cfg.IncludeMin && n <= *cfg.Min) {
				return nil, nil, validationf("%q must be %s %g", q.Prompt, boundWord(cfg.IncludeMin, "at least", "greater than"), *cfg.Min)
			}
		}
		if cfg.Max != nil {
			if (cfg.IncludeMax && n > *cfg.Max) || (!cfg.IncludeMax && n >= *cfg.Max) {
				return nil, nil, validationf("%q must be %s %g", q.Prompt, boundWord(cfg.IncludeMax, "at most", "less than"), *cfg.Max)
			}
		}
	}
	return values, &n, nil
}

func boundWord(inclusive bool, in, ex string) string {
	if inclusive {
		return in
	}
	return ex
}

func validateUserSelect(q Question, values []string, users []RosterUser) ([]string, error) {
	cfg := q.UserSelect
	out := dedupeExact(values)
	if len(out) > cfg.MaxSelections {
		return nil, validationf("%q allows at most %d users", q.Prompt, cfg.MaxSelections)
	}
	allowed := make(map[string]struct{})
	for _, u := range FilterRoster(users, cfg.Filters) {
		allowed[u.UserID] = struct{}{}
	}
	for _, id := range out {
		if _, ok := allowed[id]; !ok {
			return nil, validationf("user %q cannot be selected for %q", id, q.Prompt)
		}
	}
	return out, nil
}

// FilterRoster returns the users matching every non-empty filter.
func FilterRoster(users []RosterUser, f UserFilters) []RosterUser {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]RosterUser, 0, len(users))
	for _, u := range users {
		if !matchesAny(f.Roles, u.Role) || !matchesAny(f.Teams, u.Team) ||
			!matchesAny(f.Groups, u.Group) || !matchesAny(f.Portfolios, u.Portfolio) ||
			!matchesAny(f.RankCategories, u.RankCategory) || !matchesAny(f.Ranks, u.Rank) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.FirstName+" "+u.LastName), search) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func matchesAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	_, ok := findFold(allowed, value)
	return ok && value != ""
}

// computePrice totals the base price, option prices of choice questions that
// are not price sources, and value times unit price for number questions.
func computePrice(form *FormPayload, records []AnswerRecord) float64 {
	total := 0.0
	if form.Price != nil {
		total = *form.Price
	}

	byID := make(map[string]AnswerRecord, len(records))
	for _, r := range records {
		byID[r.QuestionID] = r
	}
	questions := make(map[string]Question, len(form.Questions))
	sources := make(map[string]struct{})
	for _, q := range form.Questions {
		questions[q.ID] = q
		if q.Number != nil {
			for _, id := range q.Number.PriceSourceQuestionIDs {
				sources[id] = struct{}{}
			}
		}
	}

	for _, q := range form.Questions {
		record := byID[q.ID]
		switch q.Type {
		case QuestionMultipleChoice, QuestionDropdown:
			if _, isSource := sources[q.ID]; !isSource {
				total += selectedPrice(q, record)
			}
		case QuestionNumber:
			if record.Number == nil || !q.Number.priced() {
				continue
			}
			unit := 0.0
			if q.Number.PricePerUnit != nil {
				unit = *q.Number.PricePerUnit
			}
			for _, id := range q.Number.PriceSourceQuestionIDs {
				unit += selectedPrice(questions[id], byID[id])
			}
			total += *record.Number * unit
		}
	}
	return math.Round(total*100) / 100
}

func selectedPrice(q Question, record AnswerRecord) float64 {
	if q.Choice == nil {
		return 0
	}
	sum := 0.0
	for _, v := range record.Values {
		sum += q.Choice.OptionPrices[v]
	}
	return sum
}

// centsMatch reports whether two amounts agree to within one cent.
func centsMatch(a, b float64) bool {
	diff := math.Round(a*100) - math.Round(b*100)
	return math.Abs(diff) <= 1
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
