package domain

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// QuestionType discriminates form question variants.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionDropdown       QuestionType = "dropdown"
	QuestionFreeText       QuestionType = "free_text"
	QuestionUserSelect     QuestionType = "user_select"
	QuestionNumber         QuestionType = "number"
)

const (
	minChoiceOptions   = 2
	maxChoiceOptions   = 10
	maxFreeTextLength  = 250
	defaultUserSelects = 1
)

// Question is a form question. Exactly one of the variant configs matching
// Type is set after normalization.
type Question struct {
	ID         string            `json:"id"`
	Type       QuestionType      `json:"type"`
	Prompt     string            `json:"prompt"`
	Required   bool              `json:"required"`
	Choice     *ChoiceConfig     `json:"choice,omitempty"`
	FreeText   *FreeTextConfig   `json:"freeText,omitempty"`
	UserSelect *UserSelectConfig `json:"userSelect,omitempty"`
	Number     *NumberConfig     `json:"number,omitempty"`
}

// ChoiceConfig configures multiple_choice and dropdown questions.
type ChoiceConfig struct {
	Options                []string           `json:"options"`
	MaxSelections          int                `json:"maxSelections"`
	AllowAdditionalOptions bool               `json:"allowAdditionalOptions"`
	OptionPrices           map[string]float64 `json:"optionPrices,omitempty"`
}

// FreeTextConfig configures free_text questions.
type FreeTextConfig struct {
	MaxLength int `json:"maxLength"`
}

// UserSelectConfig configures user_select questions.
type UserSelectConfig struct {
	Filters       UserFilters `json:"filters"`
	MaxSelections int         `json:"maxSelections"`
}

// UserFilters narrows the roster offered by a user_select question. Empty
// lists do not filter.
type UserFilters struct {
	Roles          []string `json:"roles,omitempty"`
	Teams          []string `json:"teams,omitempty"`
	Groups         []string `json:"groups,omitempty"`
	Portfolios     []string `json:"portfolios,omitempty"`
	RankCategories []string `json:"rankCategories,omitempty"`
	Ranks          []string `json:"ranks,omitempty"`
	Search         string   `json:"search,omitempty"`
}

// NumberConfig configures number questions.
type NumberConfig struct {
	AllowAnyNumber         bool     `json:"allowAnyNumber"`
	Min                    *float64 `json:"min,omitempty"`
	Max                    *float64 `json:"max,omitempty"`
	IncludeMin             bool     `json:"includeMin"`
	IncludeMax             bool     `json:"includeMax"`
	PricePerUnit           *float64 `json:"pricePerUnit,omitempty"`
	PriceSourceQuestionIDs []string `json:"priceSourceQuestionIds,omitempty"`
}

func (n *NumberConfig) priced() bool {
	return n.PricePerUnit != nil || len(n.PriceSourceQuestionIDs) > 0
}

func (q Question) clone() Question {
	out := q
	if q.Choice != nil {
		c := *q.Choice
		c.Options = append([]string(nil), q.Choice.Options...)
		if q.Choice.OptionPrices != nil {
			c.OptionPrices = make(map[string]float64, len(q.Choice.OptionPrices))
			for k, v := range q.Choice.OptionPrices {
				c.OptionPrices[k] = v
			}
		}
		out.Choice = &c
	}
	if q.FreeText != nil {
		c := *q.FreeText
		out.FreeText = &c
	}
	if q.UserSelect != nil {
		c := *q.UserSelect
		c.Filters = UserFilters{
			Roles:          append([]string(nil), q.UserSelect.Filters.Roles...),
			Teams:          append([]string(nil), q.UserSelect.Filters.Teams...),
			Groups:         append([]string(nil), q.UserSelect.Filters.Groups...),
			Portfolios:     append([]string(nil), q.UserSelect.Filters.Portfolios...),
			RankCategories: append([]string(nil), q.UserSelect.Filters.RankCategories...),
			Ranks:          append([]string(nil), q.UserSelect.Filters.Ranks...),
			Search:         q.UserSelect.Filters.Search,
		}
		out.UserSelect = &c
	}
	if q.Number != nil {
		c := *q.Number
		c.Min = cloneFloat(q.Number.Min)
		c.Max = cloneFloat(q.Number.Max)
		c.PricePerUnit = cloneFloat(q.Number.PricePerUnit)
		c.PriceSourceQuestionIDs = append([]string(nil), q.Number.PriceSourceQuestionIDs...)
		out.Number = &c
	}
	return out
}

func normalizeForm(p FormPayload) (*FormPayload, error) {
	if len(p.Questions) > maxFormEntries {
		return nil, validationf("a form can have at most %d questions", maxFormEntries)
	}
	switch p.SubmissionLimit {
	case "":
		p.SubmissionLimit = SubmissionUnlimited
	case SubmissionUnlimited, SubmissionOnce:
	default:
		return nil, validationf("unknown submission limit %q", p.SubmissionLimit)
	}
	if p.Price != nil {
		if !validPrice(*p.Price) {
			return nil, validationf("form price must be a non-negative number")
		}
		if *p.Price == 0 {
			p.Price = nil
		}
	}

	questions := make([]Question, 0, len(p.Questions))
	ids := make(map[string]int, len(p.Questions))
	for i, raw := range p.Questions {
		q, err := normalizeQuestion(raw.clone(), i, questions, ids)
		if err != nil {
			return nil, err
		}
		ids[q.ID] = i
		questions = append(questions, q)
	}
	p.Questions = questions
	return &p, nil
}

// normalizeQuestion validates one question. earlier holds the already
// normalized questions preceding it and ids maps their ids to indexes.
func normalizeQuestion(q Question, index int, earlier []Question, ids map[string]int) (Question, error) {
	q.ID = strings.TrimSpace(q.ID)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if _, dup := ids[q.ID]; dup {
		return Question{}, validationf("question %d reuses id %q", index+1, q.ID)
	}
	q.Prompt = strings.TrimSpace(q.Prompt)
	if q.Prompt == "" {
		return Question{}, validationf("question %d needs a prompt", index+1)
	}

	switch q.Type {
	case QuestionMultipleChoice, QuestionDropdown:
		choice, err := normalizeChoice(q.Type, q.Choice, index)
		if err != nil {
			return Question{}, err
		}
		q.Choice, q.FreeText, q.UserSelect, q.Number = choice, nil, nil, nil
	case QuestionFreeText:
		cfg := FreeTextConfig{MaxLength: maxFreeTextLength}
		if q.FreeText != nil && q.FreeText.MaxLength != 0 {
			cfg.MaxLength = q.FreeText.MaxLength
		}
		if cfg.MaxLength < 1 || cfg.MaxLength > maxFreeTextLength {
			return Question{}, validationf("question %d max length must be between 1 and %d", index+1, maxFreeTextLength)
		}
		q.Choice, q.FreeText, q.UserSelect, q.Number = nil, &cfg, nil, nil
	case QuestionUserSelect:
		cfg := UserSelectConfig{MaxSelections: defaultUserSelects}
		if q.UserSelect != nil {
			cfg.Filters = q.UserSelect.Filters
			if q.UserSelect.MaxSelections != 0 {
				cfg.MaxSelections = q.UserSelect.MaxSelections
			}
		}
		if cfg.MaxSelections < 1 {
			return Question{}, validationf("question %d must allow at least one user", index+1)
		}
		cfg.Filters.Search = strings.TrimSpace(cfg.Filters.Search)
		q.Choice, q.FreeText, q.UserSelect, q.Number = nil, nil, &cfg, nil
	case QuestionNumber:
		cfg, err := normalizeNumber(q.Number, index, earlier, ids)
		if err != nil {
			return Question{}, err
		}
		q.Choice, q.FreeText, q.UserSelect, q.Number = nil, nil, nil, cfg
	default:
		return Question{}, validationf("question %d has unknown type %q", index+1, q.Type)
	}
	return q, nil
}

func normalizeChoice(t QuestionType, in *ChoiceConfig, index int) (*ChoiceConfig, error) {
	if in == nil {
		return nil, validationf("question %d needs options", index+1)
	}
	cfg := *in
	cfg.Options = dedupeFold(in.Options)
	if len(cfg.Options) < minChoiceOptions || len(cfg.Options) > maxChoiceOptions {
		return nil, validationf("question %d needs between %d and %d distinct options", index+1, minChoiceOptions, maxChoiceOptions)
	}

	if t == QuestionDropdown {
		cfg.MaxSelections = 1
		cfg.AllowAdditionalOptions = false
	} else {
		if cfg.MaxSelections == 0 {
			cfg.MaxSelections = len(cfg.Options)
		}
		if cfg.MaxSelections < 2 || cfg.MaxSelections > len(cfg.Options) {
			return nil, validationf("question %d maxSelections must be between 2 and %d", index+1, len(cfg.Options))
		}
	}

	prices := make(map[string]float64, len(in.OptionPrices))
	for option, price := range in.OptionPrices {
		canonical, ok := findFold(cfg.Options, strings.TrimSpace(option))
		if !ok {
			return nil, validationf("question %d prices unknown option %q", index+1, option)
		}
		if !validPrice(price) {
			return nil, validationf("question %d option %q has an invalid price", index+1, option)
		}
		prices[canonical] = price
	}
	cfg.OptionPrices = nil
	if len(prices) > 0 {
		cfg.OptionPrices = prices
	}
	return &cfg, nil
}

func normalizeNumber(in *NumberConfig, index int, earlier []Question, ids map[string]int) (*NumberConfig, error) {
	var cfg NumberConfig
	if in != nil {
		cfg = *in
	}
	if cfg.AllowAnyNumber {
		cfg.Min, cfg.Max = nil, nil
		cfg.IncludeMin, cfg.IncludeMax = false, false
	} else {
		if cfg.Min == nil && cfg.Max == nil {
			return nil, validationf("question %d needs a minimum or maximum unless any number is allowed", index+1)
		}
		if (cfg.Min != nil && !finite(*cfg.Min)) || (cfg.Max != nil && !finite(*cfg.Max)) {
			return nil, validationf("question %d bounds must be finite numbers", index+1)
		}
		if cfg.Min != nil && cfg.Max != nil {
			if *cfg.Min > *cfg.Max {
				return nil, validationf("question %d minimum exceeds maximum", index+1)
			}
			if *cfg.Min == *cfg.Max && (!cfg.IncludeMin || !cfg.IncludeMax) {
				return nil, validationf("question %d equal bounds must both be inclusive", index+1)
			}
		}
	}

	if cfg.PricePerUnit != nil && len(cfg.PriceSourceQuestionIDs) > 0 {
		return nil, validationf("question %d cannot use both a unit price and price source questions", index+1)
	}
	if cfg.PricePerUnit != nil && !validPrice(*cfg.PricePerUnit) {
		return nil, validationf("question %d unit price must be a non-negative number", index+1)
	}

	sources := dedupeExact(cfg.PriceSourceQuestionIDs)
	for _, id := range sources {
		pos, ok := ids[id]
		if !ok || pos >= index {
			return nil, validationf("question %d price source %q must be an earlier question", index+1, id)
		}
		source := earlier[pos]
		if source.Type != QuestionDropdown && source.Type != QuestionMultipleChoice {
			return nil, validationf("question %d price source %q must be a dropdown or multiple choice question", index+1, id)
		}
		if len(source.Choice.OptionPrices) == 0 {
			return nil, validationf("question %d price source %q has no option prices", index+1, id)
		}
	}
	cfg.PriceSourceQuestionIDs = nil
	if len(sources) > 0 {
		cfg.PriceSourceQuestionIDs = sources
	}

	// Answers to priced questions are never negative; see validateNumber.
	if cfg.priced() && !cfg.AllowAnyNumber && (cfg.Min == nil || *cfg.Min < 0) {
		return nil, validationf("question %d is priced and needs a non-negative minimum", index+1)
	}
	return &cfg, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
