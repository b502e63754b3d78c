package delivery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// Interaction is a button click on a review card.
type Interaction struct {
	ActionID string
	Value    string
	UserID   string
}

// ParseInteraction decodes a Socket Mode "interactive" payload. ok is false for
// payloads that are not block actions.
func ParseInteraction(payload []byte) (Interaction, bool, error) {
	if len(payload) == 0 {
		return Interaction{}, false, nil
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Interaction{}, false, fmt.Errorf("decode interaction: %w", err)
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		return Interaction{}, false, nil
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return Interaction{}, false, nil
	}
	action := cb.ActionCallback.BlockActions[0]
	if action == nil {
		return Interaction{}, false, nil
	}
	return Interaction{
		ActionID: strings.TrimSpace(action.ActionID),
		Value:    strings.TrimSpace(action.Value),
		UserID:   strings.TrimSpace(cb.User.ID),
	}, true, nil
}
