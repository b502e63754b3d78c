package monitor

import "github.com/quailyquaily/slackdatabot/message"

const (
	questionBonus        = 20
	domainKeywordBonus   = 15
	fyiPenalty           = 30
	notQuestionPenalty   = 10
	quotedMentionPenalty = 50
)

// Scorer ranks messages by urgency.
type Scorer struct {
	Owner string
}

// Score starts from the strategy boost, adds content signals and floors at 0.
func (s Scorer) Score(msg *message.Message, strategy SearchStrategy, f *Filter) int {
	if msg == nil {
		return 0
	}
	points := strategy.PriorityBoost
	question := f.IsQuestion(msg.Text)
	if question {
		points += questionBonus
	} else {
		points -= notQuestionPenalty
	}
	if f.HasDomainKeyword(msg.Text) {
		points += domainKeywordBonus
	}
	if f.IsFYIMention(msg.Text) {
		points -= fyiPenalty
	}
	if f.IsQuotedMention(msg.Text, s.Owner) {
		points -= quotedMentionPenalty
	}
	return max(0, points)
}
