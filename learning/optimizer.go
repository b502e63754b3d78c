package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	highRejectionRate        = 0.30
	slowInvestigationSeconds = 120.0
	minSamplesForAnalysis    = 5
	channelTuningRejections  = 5
	correctionMediumCount    = 3
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

type Recommendation struct {
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Priority string         `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
}

type StatsSource interface {
	Stats(ctx context.Context, days int) (Stats, error)
}

type CorrectionSource interface {
	CommonCorrections(ctx context.Context, limit int) ([]Correction, error)
}

// Optimizer turns tracked usage and feedback into recommendations.
type Optimizer struct {
	stats       StatsSource
	corrections CorrectionSource
}

func NewOptimizer(stats StatsSource, corrections CorrectionSource) *Optimizer {
	return &Optimizer{stats: stats, corrections: corrections}
}

func (o *Optimizer) Analyze(ctx context.Context) ([]Recommendation, error) {
	if o == nil || o.stats == nil {
		return nil, fmt.Errorf("optimizer is not initialized")
	}
	stats, err := o.stats.Stats(ctx, DefaultStatsDays)
	if err != nil {
		return nil, err
	}
	var corrections []Correction
	if o.corrections != nil {
		corrections, err = o.corrections.CommonCorrections(ctx, topLimit)
		if err != nil {
			return nil, err
		}
	}
	return Recommend(stats, corrections), nil
}

// Recommend applies the thresholds to stats and corrections. Results are
// ordered high, medium, low, keeping discovery order within a priority.
func Recommend(stats Stats, corrections []Correction) []Recommendation {
	recs := []Recommendation{}

	decided := stats.TotalApproved + stats.TotalRejected
	if decided >= minSamplesForAnalysis {
		rate := float64(stats.TotalRejected) / float64(decided)
		if rate > highRejectionRate {
			recs = append(recs, Recommendation{
				Category: "high_rejection_rate",
				Message: fmt.Sprintf("Rejection rate is %.0f%% (%d/%d). Consider refining prompts or adjusting classification thresholds.",
					rate*100, stats.TotalRejected, decided),
				Priority: PriorityHigh,
				Data:     map[string]any{"rejection_rate": round3(rate), "total": decided},
			})
		}
	}

	if stats.AvgInvestigationTime > slowInvestigationSeconds && stats.TotalInvestigations >= minSamplesForAnalysis {
		recs = append(recs, Recommendation{
			Category: "slow_investigations",
			Message: fmt.Sprintf("Average investigation takes %.0fs (threshold: %.0fs). Consider enabling answer caching or pre-computing frequent queries.",
				stats.AvgInvestigationTime, slowInvestigationSeconds),
			Priority: PriorityMedium,
			Data:     map[string]any{"avg_seconds": stats.AvgInvestigationTime},
		})
	}

	if stats.TotalRejected > channelTuningRejections {
		recs = append(recs, Recommendation{
			Category: "channel_tuning",
			Message: fmt.Sprintf("%d rejections in the last %d days. Review per-channel feedback to identify channels that need custom response strategies.",
				stats.TotalRejected, periodDays(stats)),
			Priority: PriorityMedium,
			Data:     map[string]any{"total_rejected": stats.TotalRejected},
		})
	}

	for _, c := range corrections {
		if c.Type != CorrectionRejectionReason {
			continue
		}
		priority := PriorityLow
		if c.Count >= correctionMediumCount {
			priority = PriorityMedium
		}
		recs = append(recs, Recommendation{
			Category: "common_correction",
			Message: fmt.Sprintf("Most common rejection reason: %q (%d occurrences). Consider adding this as guidance in the investigation prompt.",
				c.Value, c.Count),
			Priority: priority,
			Data:     map[string]any{"reason": c.Value, "count": c.Count},
		})
		break
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank(recs[i].Priority) < priorityRank(recs[j].Priority)
	})
	return recs
}

// Report renders stats and recommendations as plain text.
func (o *Optimizer) Report(ctx context.Context) (string, error) {
	if o == nil || o.stats == nil {
		return "", fmt.Errorf("optimizer is not initialized")
	}
	stats, err := o.stats.Stats(ctx, DefaultStatsDays)
	if err != nil {
		return "", err
	}
	recs, err := o.Analyze(ctx)
	if err != nil {
		return "", err
	}
	return RenderReport(stats, recs), nil
}

func RenderReport(stats Stats, recs []Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Bot Performance Report (Last %d Days) ===\n\n", periodDays(stats))
	fmt.Fprintf(&b, "Questions detected:     %d\n", stats.TotalQuestions)
	fmt.Fprintf(&b, "Investigations run:     %d\n", stats.TotalInvestigations)
	fmt.Fprintf(&b, "Approved responses:     %d\n", stats.TotalApproved)
	fmt.Fprintf(&b, "Rejected responses:     %d\n", stats.TotalRejected)
	fmt.Fprintf(&b, "Avg investigation time: %.2fs\n", stats.AvgInvestigationTime)
	fmt.Fprintf(&b, "Avg approval time:      %.2fs\n\n", stats.AvgResponseTime)

	writeTop(&b, "Top channels:", stats.TopChannels)
	writeTop(&b, "Top question types:", stats.TopQuestionTypes)

	if len(recs) == 0 {
		b.WriteString("No recommendations at this time.")
		return b.String()
	}
	fmt.Fprintf(&b, "--- %d Recommendation(s) ---\n\n", len(recs))
	for i, rec := range recs {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, strings.ToUpper(rec.Priority), rec.Category)
		fmt.Fprintf(&b, "   %s\n\n", rec.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTop(b *strings.Builder, title string, counts []Count) {
	if len(counts) == 0 {
		return
	}
	b.WriteString(title + "\n")
	for i, c := range counts {
		if i == 5 {
			break
		}
		fmt.Fprintf(b, "  %s: %d\n", c.Name, c.Count)
	}
	b.WriteString("\n")
}

func periodDays(stats Stats) int {
	if stats.PeriodDays <= 0 {
		return DefaultStatsDays
	}
	return stats.PeriodDays
}

func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
