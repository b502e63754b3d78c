package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const noFeedback = "No feedback provided."

var criterionLineRe = regexp.MustCompile(`(?i)^[-*]?\s*(.+?):\s*(PASS|FAIL)\b`)

type QualityConfig struct {
	MaxRounds       int
	MinPassCriteria int
	Criteria        []string
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MaxRounds:       3,
		MinPassCriteria: 5,
		Criteria: []string{
			"data_accuracy",
			"completeness",
			"root_cause",
			"time_period",
			"tone",
			"actionable",
			"caveats",
		},
	}
}

// QualityResult is one parsed review.
type QualityResult struct {
	Score    int
	Total    int
	Passed   bool
	Feedback string
	Criteria map[string]bool
	// Order lists Criteria keys as they first appeared in the review.
	Order []string
	Round int
}

// Failed returns the failing criteria in review order.
func (r QualityResult) Failed() []string {
	var out []string
	for _, name := range r.Order {
		if !r.Criteria[name] {
			out = append(out, name)
		}
	}
	return out
}

// Drafter is what the quality loop needs from a backend.
type Drafter interface {
	Investigate(ctx context.Context, question, background string) (string, error)
	Review(ctx context.Context, question, draft string) (string, error)
}

type Reviewer struct {
	cfg    QualityConfig
	logger *slog.Logger
}

func NewReviewer(cfg QualityConfig, logger *slog.Logger) *Reviewer {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	if cfg.MinPassCriteria < 0 {
		cfg.MinPassCriteria = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{cfg: cfg, logger: logger}
}

// ReviewAndImprove reviews the draft, revising it from the reviewer's feedback until
// it passes or the round budget runs out. Without a pass it returns the draft with
// the highest raw score, keeping the earliest on ties.
func (r *Reviewer) ReviewAndImprove(ctx context.Context, question, initialDraft string, backend Drafter) (string, QualityResult, error) {
	current := initialDraft
	bestDraft := initialDraft
	best := QualityResult{Criteria: map[string]bool{}}

	for round := 1; round <= r.cfg.MaxRounds; round++ {
		review, err := backend.Review(ctx, question, current)
		if err != nil {
			return "", QualityResult{}, fmt.Errorf("quality review round %d: %w", round, err)
		}
		result := r.ParseReview(review)
		result.Round = round

		if result.Score > best.Score {
			bestDraft = current
			best = result
		}

		if result.Score >= r.cfg.MinPassCriteria {
			r.logger.Info("engine_quality_passed",
				"round", round,
				"score", result.Score,
				"total", result.Total,
			)
			return current, result, nil
		}
		if round == r.cfg.MaxRounds {
			r.logger.Info("engine_quality_rounds_exhausted",
				"max_rounds", r.cfg.MaxRounds,
				"best_score", best.Score,
				"best_total", best.Total,
				"best_round", best.Round,
			)
			break
		}

		r.logger.Debug("engine_quality_revising", "round", round, "failed", len(result.Failed()))
		revised, err := backend.Investigate(ctx, question, RevisionContext(result))
		if err != nil {
			return "", QualityResult{}, fmt.Errorf("quality revision round %d: %w", round, err)
		}
		current = revised
	}
	return bestDraft, best, nil
}

// RevisionContext feeds a failed review back into the next draft.
func RevisionContext(result QualityResult) string {
	failed := result.Failed()
	lines := make([]string, 0, len(failed))
	for _, name := range failed {
		lines = append(lines, "- "+name)
	}
	return "## Previous Feedback\n" + result.Feedback + "\n\n## Failed Criteria\n" + strings.Join(lines, "\n")
}

// ParseReview reads "name: PASS|FAIL" lines and the feedback section. When no such
// line exists it searches the text for each configured criterion instead.
func (r *Reviewer) ParseReview(text string) QualityResult {
	res := QualityResult{Criteria: map[string]bool{}}
	set := func(name string, pass bool) {
		if _, ok := res.Criteria[name]; !ok {
			res.Order = append(res.Order, name)
		}
		res.Criteria[name] = pass
	}

	var feedback []string
	inFeedback := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "## feedback") || lower == "feedback:" {
			inFeedback = true
			continue
		}
		if inFeedback {
			feedback = append(feedback, line)
			continue
		}
		if m := criterionLineRe.FindStringSubmatch(trimmed); m != nil {
			set(strings.TrimSpace(m[1]), strings.EqualFold(m[2], "PASS"))
		}
	}

	if len(res.Criteria) == 0 {
		for _, criterion := range r.cfg.Criteria {
			re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(criterion) + `.*?(PASS|FAIL)`)
			if err != nil {
				continue
			}
			if m := re.FindStringSubmatch(text); m != nil {
				set(criterion, strings.EqualFold(m[1], "PASS"))
			}
		}
	}

	for _, pass := range res.Criteria {
		if pass {
			res.Score++
		}
	}
	res.Total = len(res.Criteria)
	if res.Total == 0 {
		res.Total = len(r.cfg.Criteria)
	}
	res.Feedback = strings.TrimSpace(strings.Join(feedback, "\n"))
	if res.Feedback == "" {
		res.Feedback = noFeedback
	}
	res.Passed = res.Score >= r.cfg.MinPassCriteria
	return res
}
