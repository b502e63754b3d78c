package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var sevenCriteria = []string{"data_accuracy", "completeness", "root_cause", "time_period", "tone", "actionable", "caveats"}

// reviewText renders a review with the first `pass` criteria passing.
func reviewText(pass int, feedback string) string {
	var b strings.Builder
	for i, c := range sevenCriteria {
		verdict := "FAIL"
		if i < pass {
			verdict = "PASS"
		}
		fmt.Fprintf(&b, "- %s: %s - explanation\n", c, verdict)
	}
	if feedback != "" {
		b.WriteString("\n## Feedback\n" + feedback + "\n")
	}
	return b.String()
}

type scriptedDrafter struct {
	mu            sync.Mutex
	reviews       []string
	drafts        []string
	reviewErr     error
	investErr     error
	reviewCalls   int
	investCalls   int
	reviewedDraft []string
	contexts      []string
}

func (s *scriptedDrafter) Investigate(_ context.Context, _ string, background string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investCalls++
	s.contexts = append(s.contexts, background)
	if s.investErr != nil {
		return "", s.investErr
	}
	if len(s.drafts) == 0 {
		return "", errors.New("no more drafts")
	}
	d := s.drafts[0]
	s.drafts = s.drafts[1:]
	return d, nil
}

func (s *scriptedDrafter) Review(_ context.Context, _ string, draft string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviewCalls++
	s.reviewedDraft = append(s.reviewedDraft, draft)
	if s.reviewErr != nil {
		return "", s.reviewErr
	}
	if len(s.reviews) == 0 {
		return "", errors.New("no more reviews")
	}
	r := s.reviews[0]
	s.reviews = s.reviews[1:]
	return r, nil
}

func testReviewer(maxRounds int) *Reviewer {
	return NewReviewer(QualityConfig{MaxRounds: maxRounds, MinPassCriteria: 5, Criteria: sevenCriteria}, nil)
}

func TestReviewAndImprovePassesFirstRound(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{reviews: []string{reviewText(7, "No changes needed.")}}
	draft, res, err := testReviewer(3).ReviewAndImprove(context.Background(), "q", "initial", d)
	if err != nil {
		t.Fatalf("ReviewAndImprove() error = %v", err)
	}
	if draft != "initial" {
		t.Fatalf("draft = %q, want %q", draft, "initial")
	}
	if res.Score != 7 || res.Total != 7 || !res.Passed || res.Round != 1 {
		t.Fatalf("result = %+v, want 7/7 passed round 1", res)
	}
	if d.reviewCalls != 1 || d.investCalls != 0 {
		t.Fatalf("calls = (review %d, investigate %d), want (1, 0)", d.reviewCalls, d.investCalls)
	}
}

func TestReviewAndImproveReturnsBestDraft(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{
		reviews: []string{reviewText(3, "add numbers"), reviewText(2, "worse")},
		drafts:  []string{"revised"},
	}
	draft, res, err := testReviewer(2).ReviewAndImprove(context.Background(), "q", "round-1", d)
	if err != nil {
		t.Fatalf("ReviewAndImprove() error = %v", err)
	}
	if draft != "round-1" {
		t.Fatalf("draft = %q, want the round-1 draft", draft)
	}
	if res.Score != 3 || res.Round != 1 || res.Passed {
		t.Fatalf("result = %+v, want score 3 round 1 not passed", res)
	}
	if d.reviewCalls != 2 || d.investCalls != 1 {
		t.Fatalf("calls = (review %d, investigate %d), want (2, 1)", d.reviewCalls, d.investCalls)
	}
	if diff := cmp.Diff([]string{"round-1", "revised"}, d.reviewedDraft); diff != "" {
		t.Fatalf("reviewed drafts mismatch (-want +got):\n%s", diff)
	}
	wantCtx := "## Previous Feedback\nadd numbers\n\n## Failed Criteria\n- time_period\n- tone\n- actionable\n- caveats"
	if d.contexts[0] != wantCtx {
		t.Fatalf("revision context = %q, want %q", d.contexts[0], wantCtx)
	}
}

func TestReviewAndImprovePassesAfterRevision(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{
		reviews: []string{reviewText(2, "more"), reviewText(6, "")},
		drafts:  []string{"better"},
	}
	draft, res, err := testReviewer(3).ReviewAndImprove(context.Background(), "q", "first", d)
	if err != nil {
		t.Fatalf("ReviewAndImprove() error = %v", err)
	}
	if draft != "better" || res.Round != 2 || !res.Passed {
		t.Fatalf("ReviewAndImprove() = (%q, %+v), want better passing in round 2", draft, res)
	}
}

func TestReviewAndImproveAllZero(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{reviews: []string{reviewText(0, ""), reviewText(0, "")}, drafts: []string{"second"}}
	draft, res, err := testReviewer(2).ReviewAndImprove(context.Background(), "q", "first", d)
	if err != nil {
		t.Fatalf("ReviewAndImprove() error = %v", err)
	}
	if draft != "first" || res.Round != 0 || res.Score != 0 {
		t.Fatalf("ReviewAndImprove() = (%q, %+v), want initial draft with round 0", draft, res)
	}
}

func TestReviewAndImprovePropagatesErrors(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{reviewErr: ErrTimeout}
	if _, _, err := testReviewer(3).ReviewAndImprove(context.Background(), "q", "first", d); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReviewAndImprove() error = %v, want ErrTimeout", err)
	}
}

func TestParseReviewLines(t *testing.T) {
	t.Parallel()

	r := testReviewer(3)
	text := strings.Join([]string{
		"Here is my review:",
		"* Data Accuracy: pass - numbers match",
		"Completeness: FAIL",
		"- tone:PASS",
		"Feedback:",
		"  Mention the date range.",
		"Completeness: PASS",
	}, "\n")
	res := r.ParseReview(text)
	want := map[string]bool{"Data Accuracy": true, "Completeness": false, "tone": true}
	if diff := cmp.Diff(want, res.Criteria); diff != "" {
		t.Fatalf("Criteria mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Data Accuracy", "Completeness", "tone"}, res.Order); diff != "" {
		t.Fatalf("Order mismatch (-want +got):\n%s", diff)
	}
	if res.Score != 2 || res.Total != 3 {
		t.Fatalf("score = %d/%d, want 2/3", res.Score, res.Total)
	}
	if res.Feedback != "Mention the date range.\nCompleteness: PASS" {
		t.Fatalf("Feedback = %q", res.Feedback)
	}
}

func TestParseReviewFallsBackToConfiguredCriteria(t *testing.T) {
	t.Parallel()

	r := testReviewer(3)
	res := r.ParseReview("The data_accuracy looks PASS to me. On tone I would say fail. caveats are missing")
	want := map[string]bool{"data_accuracy": true, "tone": false}
	if diff := cmp.Diff(want, res.Criteria); diff != "" {
		t.Fatalf("Criteria mismatch (-want +got):\n%s", diff)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}
	if res.Feedback != noFeedback {
		t.Fatalf("Feedback = %q, want %q", res.Feedback, noFeedback)
	}
}

func TestParseReviewNothingParsed(t *testing.T) {
	t.Parallel()

	res := testReviewer(3).ParseReview("looks fine overall")
	if res.Score != 0 || res.Total != 7 || res.Passed {
		t.Fatalf("ParseReview() = %+v, want 0/7 not passed", res)
	}
}
