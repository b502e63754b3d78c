// Package monitor discovers chat messages that still need an answer: it runs the
// configured search strategies, parses and filters the hits, then scores and
// deduplicates them.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

const maxPageSize = 100

// SearchPage is one page of search results.
type SearchPage struct {
	Matches []RawHit
	HasMore bool
}

// Searcher is the full-text search source.
type Searcher interface {
	SearchMessages(ctx context.Context, query string, count, page int) (SearchPage, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, count, page int) (SearchPage, error)

func (f SearcherFunc) SearchMessages(ctx context.Context, query string, count, page int) (SearchPage, error) {
	return f(ctx, query, count, page)
}

// NopSearcher returns no results.
type NopSearcher struct{}

func (NopSearcher) SearchMessages(context.Context, string, int, int) (SearchPage, error) {
	return SearchPage{}, nil
}

type Options struct {
	Config   Config
	Searcher Searcher
	Logger   *slog.Logger
	Now      func() time.Time
}

// Monitor runs one discovery pass per call to FindUnanswered.
type Monitor struct {
	cfg      Config
	searcher Searcher
	filter   *Filter
	scorer   Scorer
	logger   *slog.Logger
	now      func() time.Time
}

func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	searcher := opts.Searcher
	if searcher == nil {
		logger.Warn("monitor_searcher_missing", "hint", "search is disabled; every cycle finds nothing")
		searcher = NopSearcher{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		cfg:      opts.Config,
		searcher: searcher,
		filter:   NewFilter(opts.Config),
		scorer:   Scorer{Owner: opts.Config.OwnerUsername},
		logger:   logger,
		now:      now,
	}
}

// Filter exposes the content checks used by this monitor.
func (m *Monitor) Filter() *Filter {
	return m.filter
}

// FindUnanswered returns the unanswered, deduplicated messages, highest priority first.
func (m *Monitor) FindUnanswered(ctx context.Context, answered map[string]struct{}) []*message.Message {
	strategies := GenerateStrategies(m.cfg, LookbackDate(m.now(), m.cfg.LookbackDays))

	var candidates, ownerResponses []*message.Message
	for _, strategy := range strategies {
		if ctx.Err() != nil {
			break
		}
		parsed := m.parseHits(m.search(ctx, strategy), strategy)
		if strategy.Name == StrategyOwnerResponses {
			ownerResponses = append(ownerResponses, parsed...)
		} else {
			candidates = append(candidates, parsed...)
		}
	}
	m.logger.Info("monitor_candidates_collected",
		"candidates", len(candidates),
		"owner_responses", len(ownerResponses),
	)

	byName := make(map[string]SearchStrategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name] = s
	}
	for _, msg := range candidates {
		strategy, ok := byName[msg.Strategy()]
		if !ok {
			if len(strategies) > 0 {
				strategy = strategies[0]
			} else {
				strategy = SearchStrategy{Name: "fallback"}
			}
		}
		msg.Priority = m.scorer.Score(msg, strategy, m.filter)
	}

	unanswered := m.filter.FilterAnswered(candidates, ownerResponses, answered)
	unique := message.Dedupe(unanswered)
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Priority > unique[j].Priority
	})

	m.logger.Info("monitor_unanswered_found",
		"unanswered", len(unique),
		"candidates", len(candidates),
	)
	return unique
}

func (m *Monitor) search(ctx context.Context, strategy SearchStrategy) []RawHit {
	var results []RawHit
	page := 1
	remaining := strategy.Count
	for remaining > 0 {
		size := min(remaining, maxPageSize)
		res, err := m.searcher.SearchMessages(ctx, strategy.Query, size, page)
		if err != nil {
			m.logger.Warn("monitor_strategy_search_error",
				"strategy", strategy.Name,
				"page", page,
				"error", err.Error(),
			)
			break
		}
		if len(res.Matches) == 0 {
			break
		}
		results = append(results, res.Matches...)
		remaining -= len(res.Matches)
		if !res.HasMore {
			break
		}
		page++
	}
	m.logger.Debug("monitor_strategy_searched", "strategy", strategy.Name, "results", len(results))
	return results
}

func (m *Monitor) parseHits(hits []RawHit, strategy SearchStrategy) []*message.Message {
	out := make([]*message.Message, 0, len(hits))
	for _, raw := range hits {
		if m.filter.IsBotMessage(raw) {
			continue
		}
		msg, ok := ParseMessage(raw, strategy, m.cfg, m.logger)
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	return out
}
