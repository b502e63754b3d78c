package message

// Dedupe keeps one message per conversation key, preferring the higher priority.
// Ties keep the first one seen. Nil entries are skipped. Output follows the order
// in which each key was first seen.
func Dedupe(messages []*Message) []*Message {
	if len(messages) == 0 {
		return []*Message{}
	}
	best := make(map[string]int, len(messages))
	out := make([]*Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		key := msg.ConversationKey()
		idx, ok := best[key]
		if !ok {
			best[key] = len(out)
			out = append(out, msg)
			continue
		}
		if msg.Priority > out[idx].Priority {
			out[idx] = msg
		}
	}
	return out
}
