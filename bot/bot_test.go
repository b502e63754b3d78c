package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/slackdatabot/delivery"
	"github.com/quailyquaily/slackdatabot/engine"
	"github.com/quailyquaily/slackdatabot/internal/slackapi"
	"github.com/quailyquaily/slackdatabot/internal/state"
	"github.com/quailyquaily/slackdatabot/message"
	"github.com/quailyquaily/slackdatabot/monitor"
)

var fixedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPoster struct {
	mu   sync.Mutex
	reqs []slackapi.PostMessageRequest
	fail func(slackapi.PostMessageRequest) error
}

func (p *recordingPoster) PostMessage(_ context.Context, req slackapi.PostMessageRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(req); err != nil {
			return "", err
		}
	}
	p.reqs = append(p.reqs, req)
	return fmt.Sprintf("ts-%d", len(p.reqs)), nil
}

func (p *recordingPoster) sent() []slackapi.PostMessageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]slackapi.PostMessageRequest(nil), p.reqs...)
}

type staticSearcher map[string][]monitor.RawHit

func (s staticSearcher) SearchMessages(_ context.Context, query string, _, page int) (monitor.SearchPage, error) {
	if page > 1 {
		return monitor.SearchPage{}, nil
	}
	for prefix, hits := range s {
		if strings.HasPrefix(query, prefix) {
			return monitor.SearchPage{Matches: hits}, nil
		}
	}
	return monitor.SearchPage{}, nil
}

type scriptedDrafter struct {
	mu     sync.Mutex
	draft  string
	err    error
	review string
}

func (d *scriptedDrafter) Investigate(context.Context, string, string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft, d.err
}

func (d *scriptedDrafter) Review(context.Context, string, string) (string, error) {
	return d.review, nil
}

type call struct {
	kind   string
	detail string
	ok     bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeRecorder) add(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeRecorder) RecordQuestion(_ context.Context, _ *message.Message, classification string) error {
	return f.add(call{kind: "question", detail: classification})
}

func (f *fakeRecorder) RecordInvestigation(_ context.Context, _ *message.Message, _ time.Duration, success bool) error {
	return f.add(call{kind: "investigation", ok: success})
}

func (f *fakeRecorder) RecordApproval(_ context.Context, _ *message.Message, action string, _ time.Duration) error {
	return f.add(call{kind: "approval", detail: action})
}

func (f *fakeRecorder) Record(_ context.Context, _ *message.Message, _, action, _, reason string) error {
	return f.add(call{kind: "feedback", detail: action + "|" + reason})
}

func (f *fakeRecorder) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.kind+":"+c.detail)
	}
	return out
}

type harness struct {
	bot      *Bot
	poster   *recordingPoster
	drafter  *scriptedDrafter
	store    *state.FileStore
	recorder *fakeRecorder
}

func passingReview() string {
	return "- accuracy: PASS - numbers match\n- clarity: PASS - reads well\n- caveats: PASS - noted\n"
}

func newHarness(t *testing.T, hits staticSearcher, mode string) harness {
	t.Helper()
	logger := quietLogger()
	now := func() time.Time { return fixedNow }

	mon := monitor.New(monitor.Options{
		Config: monitor.Config{
			LookbackDays:   7,
			Channels:       []monitor.Channel{{Name: "data-help", ID: "C1"}},
			DomainKeywords: []string{"dashboard"},
			OwnerUsername:  "owner",
		},
		Searcher: hits,
		Logger:   logger,
		Now:      now,
	})
	drafter := &scriptedDrafter{draft: "The drop is a timezone shift.", review: passingReview()}
	reviewer := engine.NewReviewer(engine.QualityConfig{
		MaxRounds:       3,
		MinPassCriteria: 2,
		Criteria:        []string{"accuracy", "clarity", "caveats"},
	}, logger)
	poster := &recordingPoster{}
	store, err := state.NewFileStore(state.Config{Directory: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	rec := &fakeRecorder{}
	dcfg := delivery.DefaultConfig()
	dcfg.Mode = mode

	b, err := New(Options{
		Monitor:       mon,
		Investigator:  engine.NewInvestigator(drafter, reviewer, logger),
		Notifier:      delivery.NewNotifier(delivery.NotifierOptions{OwnerUserID: "U_OWNER", Poster: poster, Logger: logger, Now: now}),
		Approvals:     delivery.NewApprovalFlow(delivery.ApprovalOptions{Poster: poster, Logger: logger, Now: now}),
		State:         store,
		Tracker:       rec,
		Feedback:      rec,
		MaxConcurrent: 3,
		Delivery:      dcfg,
		Logger:        logger,
		Now:           func() time.Time { return fixedNow.Add(10 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return harness{bot: b, poster: poster, drafter: drafter, store: store, recorder: rec}
}

func mentionHits() staticSearcher {
	return staticSearcher{
		"@owner": {{
			"ts":      "100.0",
			"text":    "@owner why did dashboard numbers drop?",
			"channel": map[string]any{"id": "C1", "name": "data-help"},
			"user":    "U1",
		}},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("New(empty) error = nil")
	}
}

func TestPollCycleSubmitsForReview(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	if got := h.bot.PollCycle(context.Background()); got != 1 {
		t.Fatalf("PollCycle() = %d, want 1", got)
	}

	sent := h.poster.sent()
	if len(sent) != 1 || sent[0].Channel != "U_OWNER" || len(sent[0].Blocks) == 0 {
		t.Fatalf("posts = %+v, want one review card to the owner", sent)
	}
	pending := h.bot.Pending()
	if len(pending) != 1 {
		t.Fatalf("len(Pending()) = %d, want 1", len(pending))
	}
	p := pending[0]
	if p.Message.ConversationKey() != "C1:100.0" || p.Message.Priority != 135 {
		t.Fatalf("pending = (%s, %d), want (C1:100.0, 135)", p.Message.ConversationKey(), p.Message.Priority)
	}
	if p.QualityScore != 3 || p.QualityTotal != 3 {
		t.Fatalf("quality = %d/%d, want 3/3", p.QualityScore, p.QualityTotal)
	}
	if q := h.store.Queue(); len(q) != 1 || q[0].Key != "C1:100.0" {
		t.Fatalf("Queue() = %+v", q)
	}
	if h.store.Load().LastPoll == nil {
		t.Fatalf("LastPoll not recorded")
	}
	got := strings.Join(h.recorder.kinds(), ",")
	if got != "question:direct_mention,investigation:" {
		t.Fatalf("recorded = %s", got)
	}
}

func TestPollCycleSkipsAnswered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	msg, _ := message.New("100.0", "C1")
	if err := h.store.MarkAnswered(msg, "done"); err != nil {
		t.Fatalf("MarkAnswered() error = %v", err)
	}
	if got := h.bot.PollCycle(context.Background()); got != 0 {
		t.Fatalf("PollCycle() = %d, want 0", got)
	}
	if len(h.poster.sent()) != 0 {
		t.Fatalf("unexpected posts: %+v", h.poster.sent())
	}
}

func TestPollCycleRespectsMaxConcurrent(t *testing.T) {
	t.Parallel()

	hits := staticSearcher{"? in:#data-help": {
		{"ts": "1.0", "text": "where is the churn report?", "channel": map[string]any{"id": "C1"}, "user": "U1"},
		{"ts": "2.0", "text": "why is the dashboard stale?", "channel": map[string]any{"id": "C1"}, "user": "U2"},
		{"ts": "3.0", "text": "is the model broken?", "channel": map[string]any{"id": "C1"}, "user": "U3"},
		{"ts": "4.0", "text": "what is the MAU?", "channel": map[string]any{"id": "C1"}, "user": "U4"},
	}}
	h := newHarness(t, hits, delivery.ModeHumanApproval)
	if got := h.bot.PollCycle(context.Background()); got != 3 {
		t.Fatalf("PollCycle() = %d, want 3", got)
	}
	if got := len(h.bot.Pending()); got != 3 {
		t.Fatalf("len(Pending()) = %d, want 3", got)
	}
}

func TestPollCycleNotifiesErrorOnFailedInvestigation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	h.drafter.err = errors.New("claude exited 1")

	if got := h.bot.PollCycle(context.Background()); got != 1 {
		t.Fatalf("PollCycle() = %d, want 1", got)
	}
	sent := h.poster.sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "claude exited 1") {
		t.Fatalf("posts = %+v, want one error notification", sent)
	}
	if len(h.bot.Pending()) != 0 {
		t.Fatalf("failed investigation should not be submitted")
	}
	calls := h.recorder.calls
	if len(calls) != 2 || calls[1].kind != "investigation" || calls[1].ok {
		t.Fatalf("recorded = %+v, want a failed investigation", calls)
	}
}

func TestPollCycleAutoRespond(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeAutoRespond)
	if got := h.bot.PollCycle(context.Background()); got != 1 {
		t.Fatalf("PollCycle() = %d, want 1", got)
	}
	sent := h.poster.sent()
	if len(sent) != 1 || sent[0].Channel != "C1" || sent[0].ThreadTS != "100.0" {
		t.Fatalf("posts = %+v, want a direct thread reply", sent)
	}
	if !h.store.IsAnswered("C1:100.0") {
		t.Fatalf("auto response should mark the conversation answered")
	}
	if len(h.bot.Pending()) != 0 {
		t.Fatalf("auto response should not queue an approval")
	}
}

func TestHandleActionApprove(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	h.bot.PollCycle(context.Background())
	id := h.bot.Pending()[0].ID

	if err := h.bot.HandleAction(context.Background(), "approve", id, "U_OWNER"); err != nil {
		t.Fatalf("HandleAction(approve) error = %v", err)
	}
	sent := h.poster.sent()
	if len(sent) != 2 {
		t.Fatalf("len(posts) = %d, want 2", len(sent))
	}
	reply := sent[1]
	if reply.Channel != "C1" || reply.ThreadTS != "100.0" || reply.Text != "The drop is a timezone shift." {
		t.Fatalf("reply = %+v", reply)
	}
	if !h.store.IsAnswered("C1:100.0") {
		t.Fatalf("approved conversation should be answered")
	}
	if len(h.bot.Pending()) != 0 || len(h.store.Queue()) != 0 {
		t.Fatalf("approval should clear pending and queue")
	}
	got := strings.Join(h.recorder.kinds(), ",")
	if !strings.HasSuffix(got, "approval:approved,feedback:approved|") {
		t.Fatalf("recorded = %s", got)
	}

	// A second poll finds the conversation already answered.
	if n := h.bot.PollCycle(context.Background()); n != 0 {
		t.Fatalf("PollCycle() after approval = %d, want 0", n)
	}
}

func TestPollCycleSkipsPendingReview(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	if got := h.bot.PollCycle(context.Background()); got != 1 {
		t.Fatalf("PollCycle() = %d, want 1", got)
	}
	id := h.bot.Pending()[0].ID

	if got := h.bot.PollCycle(context.Background()); got != 0 {
		t.Fatalf("second PollCycle() = %d, want 0", got)
	}
	if got := len(h.poster.sent()); got != 1 {
		t.Fatalf("len(posts) = %d, want 1 review card", got)
	}
	pending := h.bot.Pending()
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %+v, want the original approval %s", pending, id)
	}
}

func TestHandleActionApproveKeepsPendingWhenPostFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	h.bot.PollCycle(context.Background())
	id := h.bot.Pending()[0].ID

	h.poster.mu.Lock()
	h.poster.fail = func(req slackapi.PostMessageRequest) error {
		if req.Channel == "C1" {
			return errors.New("channel_not_found")
		}
		return nil
	}
	h.poster.mu.Unlock()

	if err := h.bot.HandleAction(context.Background(), "approve", id, "U_OWNER"); err == nil {
		t.Fatalf("HandleAction(approve) error = nil, want post failure")
	}
	if got := len(h.bot.Pending()); got != 1 {
		t.Fatalf("len(Pending()) = %d, want 1 after failed post", got)
	}
	if q := h.store.Queue(); len(q) != 1 || q[0].Key != "C1:100.0" {
		t.Fatalf("Queue() = %+v, want C1:100.0 still queued", q)
	}
	if h.store.IsAnswered("C1:100.0") {
		t.Fatalf("conversation should not be answered after failed post")
	}

	h.poster.mu.Lock()
	h.poster.fail = nil
	h.poster.mu.Unlock()

	if err := h.bot.HandleAction(context.Background(), "approve", id, "U_OWNER"); err != nil {
		t.Fatalf("HandleAction(approve) retry error = %v", err)
	}
	if len(h.bot.Pending()) != 0 || len(h.store.Queue()) != 0 {
		t.Fatalf("retry should clear pending and queue")
	}
	if !h.store.IsAnswered("C1:100.0") {
		t.Fatalf("retried approval should mark the conversation answered")
	}
}

func TestHandleActionReject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	h.bot.PollCycle(context.Background())

	if err := h.bot.HandleAction(context.Background(), "reject", "C1:100.0", "U_OWNER"); err != nil {
		t.Fatalf("HandleAction(reject) error = %v", err)
	}
	if len(h.poster.sent()) != 1 {
		t.Fatalf("reject should not post a reply")
	}
	if h.store.IsAnswered("C1:100.0") {
		t.Fatalf("rejected conversation should not be answered")
	}
	if len(h.bot.Pending()) != 0 {
		t.Fatalf("reject should clear the pending approval")
	}
	got := strings.Join(h.recorder.kinds(), ",")
	if !strings.HasSuffix(got, "approval:rejected,feedback:rejected|Rejected by reviewer") {
		t.Fatalf("recorded = %s", got)
	}
}

func TestHandleActionEditAndUnknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, mentionHits(), delivery.ModeHumanApproval)
	h.bot.PollCycle(context.Background())
	id := h.bot.Pending()[0].ID

	if err := h.bot.HandleAction(context.Background(), "bogus", id, "U_OWNER"); !errors.Is(err, delivery.ErrUnknownAction) {
		t.Fatalf("HandleAction(bogus) error = %v, want ErrUnknownAction", err)
	}
	if len(h.bot.Pending()) != 1 {
		t.Fatalf("unknown action should keep the pending approval")
	}
	if err := h.bot.HandleAction(context.Background(), "edit", id, "U_OWNER"); err != nil {
		t.Fatalf("HandleAction(edit) error = %v", err)
	}
	if len(h.bot.Pending()) != 0 {
		t.Fatalf("edit should clear the pending approval")
	}
	if got := h.recorder.kinds(); got[len(got)-1] != "feedback:edited|" {
		t.Fatalf("recorded = %v", got)
	}
	if err := h.bot.HandleAction(context.Background(), "approve", "missing", "U_OWNER"); err != nil {
		t.Fatalf("HandleAction(missing key) error = %v, want nil", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	m, _ := message.New("1.0", "C1")
	if got := Classify(m); got != "unknown" {
		t.Fatalf("Classify(plain) = %q", got)
	}
	m.Metadata["strategy"] = "generic_data_questions"
	if got := Classify(m); got != "generic_data_questions" {
		t.Fatalf("Classify(strategy) = %q", got)
	}
	m.IsDomainQuestion = true
	if got := Classify(m); got != "domain_keyword" {
		t.Fatalf("Classify(domain) = %q", got)
	}
	m.IsDM = true
	if got := Classify(m); got != "direct_message" {
		t.Fatalf("Classify(dm) = %q", got)
	}
}
