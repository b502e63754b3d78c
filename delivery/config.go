package delivery

const (
	ModeHumanApproval = "human_approval"
	ModeAutoRespond   = "auto_respond"
)

type Config struct {
	Mode                  string
	AutoRespondConfidence float64
	MaxPending            int
}

func DefaultConfig() Config {
	return Config{
		Mode:                  ModeHumanApproval,
		AutoRespondConfidence: 0.9,
		MaxPending:            DefaultMaxPending,
	}
}

// AutoRespond reports whether a draft scored score/total may skip review.
func (c Config) AutoRespond(approved bool, score, total int) bool {
	if c.Mode != ModeAutoRespond || !approved || total <= 0 {
		return false
	}
	return float64(score)/float64(total) >= c.AutoRespondConfidence
}
