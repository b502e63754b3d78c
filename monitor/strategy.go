package monitor

import (
	"fmt"
	"strings"
	"time"
)

const (
	StrategyDirectMentions   = "direct_mentions"
	StrategyChannelQuestions = "channel_questions"
	StrategyGenericData      = "generic_data_questions"
	StrategyDirectMessages   = "direct_messages"
	StrategyOwnerResponses   = "owner_responses"

	defaultStrategyCount = 100
	maxKeywordStrategies = 3
)

var genericDataTerms = []string{"model", "data", "metric", "report", "number", "query"}

// Channel is a monitored channel.
type Channel struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	ID   string `mapstructure:"id" yaml:"id" json:"id"`
}

// Config drives discovery. Nothing workspace-specific is compiled in.
type Config struct {
	PollInterval   time.Duration
	LookbackDays   int
	Channels       []Channel
	DomainKeywords []string
	BotUsernames   []string
	OwnerUsername  string
}

// SearchStrategy is one query against the search source, with its scoring hints.
type SearchStrategy struct {
	Name               string
	Query              string
	Count              int
	PriorityBoost      int
	MarksDirectMention bool
	MarksDM            bool
}

// LookbackDate formats the "after:" cutoff for a cycle starting at now.
func LookbackDate(now time.Time, days int) string {
	return now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
}

// GenerateStrategies derives the per-cycle search plan from configuration.
func GenerateStrategies(cfg Config, lookbackDate string) []SearchStrategy {
	owner := strings.TrimSpace(cfg.OwnerUsername)
	after := "after:" + lookbackDate

	var out []SearchStrategy
	if owner != "" {
		out = append(out, SearchStrategy{
			Name:               StrategyDirectMentions,
			Query:              fmt.Sprintf("@%s %s", owner, after),
			Count:              defaultStrategyCount,
			PriorityBoost:      100,
			MarksDirectMention: true,
		})
	}

	inChannels := channelClause(cfg.Channels)
	if inChannels != "" {
		out = append(out, SearchStrategy{
			Name:          StrategyChannelQuestions,
			Query:         fmt.Sprintf("? %s %s", inChannels, after),
			Count:         defaultStrategyCount,
			PriorityBoost: 50,
		})
	}

	for i, chunk := range keywordChunks(cfg.DomainKeywords) {
		out = append(out, SearchStrategy{
			Name:          fmt.Sprintf("domain_keywords_%d", i+1),
			Query:         fmt.Sprintf("(%s) ? %s", strings.Join(chunk, " OR "), after),
			Count:         defaultStrategyCount,
			PriorityBoost: 30,
		})
	}

	generic := "(" + strings.Join(genericDataTerms, " OR ") + ") ?"
	if inChannels != "" {
		generic += " " + inChannels
	}
	out = append(out, SearchStrategy{
		Name:          StrategyGenericData,
		Query:         generic + " " + after,
		Count:         defaultStrategyCount,
		PriorityBoost: 20,
	})

	if owner != "" {
		out = append(out,
			SearchStrategy{
				Name:          StrategyDirectMessages,
				Query:         fmt.Sprintf("to:@%s %s", owner, after),
				Count:         defaultStrategyCount,
				PriorityBoost: 80,
				MarksDM:       true,
			},
			SearchStrategy{
				Name:  StrategyOwnerResponses,
				Query: fmt.Sprintf("from:@%s %s", owner, after),
				Count: defaultStrategyCount,
			},
		)
	}
	return out
}

func channelClause(channels []Channel) string {
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		parts = append(parts, "in:#"+name)
	}
	return strings.Join(parts, " ")
}

// keywordChunks splits keywords into at most three groups of ceil(n/3).
func keywordChunks(keywords []string) [][]string {
	n := len(keywords)
	if n == 0 {
		return nil
	}
	size := n / 3
	if n%3 != 0 {
		size++
	}
	if size < 1 {
		size = 1
	}
	var chunks [][]string
	for i := 0; i < n && len(chunks) < maxKeywordStrategies; i += size {
		end := i + size
		if end > n {
			end = n
		}
		chunks = append(chunks, keywords[i:end])
	}
	return chunks
}
