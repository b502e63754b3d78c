package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type searchCall struct {
	query string
	count int
	page  int
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	pages map[string][]SearchPage
	errs  map[string]error
}

func (f *fakeSearcher) SearchMessages(_ context.Context, query string, count, page int) (SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{query: query, count: count, page: page})
	for prefix, err := range f.errs {
		if strings.HasPrefix(query, prefix) {
			return SearchPage{}, err
		}
	}
	for prefix, pages := range f.pages {
		if strings.HasPrefix(query, prefix) && page-1 < len(pages) {
			return pages[page-1], nil
		}
	}
	return SearchPage{}, nil
}

func hit(ts, channel, text string) RawHit {
	return RawHit{
		"ts":      ts,
		"text":    text,
		"channel": map[string]any{"id": channel, "name": "data-help"},
		"user":    "U1",
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
}

func TestFindUnansweredPipeline(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{pages: map[string][]SearchPage{
		"@owner": {{Matches: []RawHit{
			hit("100.0", "C1", "@owner why did dashboard numbers drop?"),
			{"ts": "101.0", "channel": "C1", "text": "@owner build failed?", "bot_id": "B1"},
		}}},
		"? in:#data-help": {{Matches: []RawHit{
			hit("100.0", "C1", "@owner why did dashboard numbers drop?"),
			hit("200.0", "C1", "where is the churn report?"),
			hit("300.0", "C1", "anyone know why the model broke?"),
		}}},
		"from:@owner": {{Matches: []RawHit{
			{"ts": "301.0", "channel": map[string]any{"id": "C1"}, "thread_ts": "300.0", "text": "fixed"},
		}}},
	}}

	m := New(Options{Config: testConfig(), Searcher: searcher, Now: fixedNow})
	got := m.FindUnanswered(context.Background(), map[string]struct{}{"C1:200.0": {}})
	if len(got) != 1 {
		t.Fatalf("len(FindUnanswered()) = %d, want 1: %+v", len(got), got)
	}
	if got[0].TS != "100.0" || got[0].Priority != 135 {
		t.Fatalf("FindUnanswered()[0] = (%s, %d), want (100.0, 135)", got[0].TS, got[0].Priority)
	}
	if got[0].Strategy() != StrategyDirectMentions {
		t.Fatalf("Strategy() = %q, want %q", got[0].Strategy(), StrategyDirectMentions)
	}
	for _, c := range searcher.calls {
		if !strings.HasSuffix(c.query, "after:2025-06-03") {
			t.Fatalf("query %q does not use the 7-day lookback", c.query)
		}
	}
}

func TestFindUnansweredSortsByPriority(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{pages: map[string][]SearchPage{
		"? in:#data-help": {{Matches: []RawHit{
			hit("1.0", "C1", "shipped"),
			hit("2.0", "C1", "is snowflake down?"),
			hit("3.0", "C1", "what is the MAU?"),
		}}},
	}}
	m := New(Options{Config: testConfig(), Searcher: searcher, Now: fixedNow})
	got := m.FindUnanswered(context.Background(), nil)
	var order []string
	for _, msg := range got {
		order = append(order, msg.TS)
	}
	if strings.Join(order, ",") != "2.0,3.0,1.0" {
		t.Fatalf("order = %v, want [2.0 3.0 1.0]", order)
	}
}

func TestSearchPagination(t *testing.T) {
	t.Parallel()

	page := func(n int) SearchPage {
		var hits []RawHit
		for i := 0; i < n; i++ {
			hits = append(hits, hit("1.0", "C1", "x"))
		}
		return SearchPage{Matches: hits, HasMore: true}
	}
	searcher := &fakeSearcher{pages: map[string][]SearchPage{"q": {page(60), page(30), page(10)}}}
	m := New(Options{Searcher: searcher, Now: fixedNow})

	got := m.search(context.Background(), SearchStrategy{Name: "s", Query: "q", Count: 100})
	if len(got) != 100 {
		t.Fatalf("len(search()) = %d, want 100", len(got))
	}
	want := []searchCall{{"q", 100, 1}, {"q", 40, 2}, {"q", 10, 3}}
	if len(searcher.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", searcher.calls, want)
	}
	for i := range want {
		if searcher.calls[i] != want[i] {
			t.Fatalf("call[%d] = %+v, want %+v", i, searcher.calls[i], want[i])
		}
	}
}

func TestSearchStopsOnLastPageAndError(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{
		pages: map[string][]SearchPage{"last": {{Matches: []RawHit{hit("1.0", "C1", "x")}, HasMore: false}}},
		errs:  map[string]error{"boom": errors.New("rate limited")},
	}
	m := New(Options{Searcher: searcher, Now: fixedNow})
	if got := m.search(context.Background(), SearchStrategy{Query: "last", Count: 100}); len(got) != 1 {
		t.Fatalf("len(search(last)) = %d, want 1", len(got))
	}
	if got := m.search(context.Background(), SearchStrategy{Query: "boom", Count: 100}); len(got) != 0 {
		t.Fatalf("len(search(boom)) = %d, want 0", len(got))
	}
	if len(searcher.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(searcher.calls))
	}
}

func TestFindUnansweredWithoutSearcher(t *testing.T) {
	t.Parallel()

	m := New(Options{Config: testConfig(), Now: fixedNow})
	if got := m.FindUnanswered(context.Background(), nil); len(got) != 0 {
		t.Fatalf("FindUnanswered() = %v, want empty", got)
	}
}
