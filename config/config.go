// Package config loads the bot settings from YAML, the environment and flags
// into typed per-component configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quailyquaily/slackdatabot/delivery"
	"github.com/quailyquaily/slackdatabot/engine"
	"github.com/quailyquaily/slackdatabot/internal/state"
	"github.com/quailyquaily/slackdatabot/learning"
	"github.com/quailyquaily/slackdatabot/monitor"
)

const (
	EnvPrefix     = "SLACK_DATA_BOT"
	EnvConfigPath = "SLACK_DATA_BOT_CONFIG"
	DefaultDir    = "~/.slack-data-bot"
)

var ErrMissingEnv = errors.New("environment variable not set")

type Slack struct {
	BotToken    string
	AppToken    string
	UserToken   string
	OwnerUserID string
	APIBaseURL  string
}

type Server struct {
	Listen    string
	AuthToken string
}

type Logging struct {
	Level     string
	Format    string
	AddSource bool
}

type Config struct {
	Slack      Slack
	Monitoring monitor.Config
	Engine     engine.Config
	Quality    engine.QualityConfig
	Delivery   delivery.Config
	Learning   learning.Config
	Cache      state.Config
	Server     Server
	Logging    Logging
}

func Default() Config {
	return Config{
		Slack: Slack{APIBaseURL: "https://slack.com/api"},
		Monitoring: monitor.Config{
			PollInterval:   5 * time.Minute,
			LookbackDays:   7,
			Channels:       []monitor.Channel{},
			DomainKeywords: []string{"quicksight", "dbt", "snowflake", "dashboard"},
			BotUsernames:   []string{"slackbot", "github", "jira"},
		},
		Engine:   engine.DefaultConfig(),
		Quality:  engine.DefaultQualityConfig(),
		Delivery: delivery.DefaultConfig(),
		Learning: learning.Config{
			Enabled:          true,
			StorageDir:       DefaultDir + "/learning",
			FeedbackTracking: true,
		},
		Cache: state.Config{
			Directory: DefaultDir,
			AnswerTTL: state.DefaultAnswerTTL,
		},
		Logging: Logging{Level: "info", Format: "auto"},
	}
}

// SetDefaults registers every key with its default value and binds
// SLACK_DATA_BOT_* environment overrides.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.app_token", "")
	v.SetDefault("slack.user_token", "")
	v.SetDefault("slack.owner_user_id", "")
	v.SetDefault("slack.api_base_url", d.Slack.APIBaseURL)

	v.SetDefault("monitoring.poll_interval", d.Monitoring.PollInterval)
	v.SetDefault("monitoring.schedule", "")
	v.SetDefault("monitoring.lookback_days", d.Monitoring.LookbackDays)
	v.SetDefault("monitoring.channels", []map[string]any{})
	v.SetDefault("monitoring.domain_keywords", d.Monitoring.DomainKeywords)
	v.SetDefault("monitoring.bot_usernames", d.Monitoring.BotUsernames)
	v.SetDefault("monitoring.owner_username", "")

	v.SetDefault("engine.backend", d.Engine.Backend)
	v.SetDefault("engine.claude_code_path", d.Engine.ClaudeCodePath)
	v.SetDefault("engine.investigation_timeout", d.Engine.InvestigationTimeout)
	v.SetDefault("engine.review_timeout", d.Engine.ReviewTimeout)
	v.SetDefault("engine.max_concurrent", d.Engine.MaxConcurrent)
	v.SetDefault("engine.openai.api_key", "")
	v.SetDefault("engine.openai.base_url", "")
	v.SetDefault("engine.openai.model", "")

	v.SetDefault("delivery.mode", d.Delivery.Mode)
	v.SetDefault("delivery.auto_respond_confidence", d.Delivery.AutoRespondConfidence)
	v.SetDefault("delivery.max_pending", d.Delivery.MaxPending)

	v.SetDefault("quality.max_rounds", d.Quality.MaxRounds)
	v.SetDefault("quality.min_pass_criteria", d.Quality.MinPassCriteria)
	v.SetDefault("quality.criteria", d.Quality.Criteria)

	v.SetDefault("learning.enabled", d.Learning.Enabled)
	v.SetDefault("learning.storage_dir", d.Learning.StorageDir)
	v.SetDefault("learning.feedback_tracking", d.Learning.FeedbackTracking)

	v.SetDefault("cache.directory", d.Cache.Directory)
	v.SetDefault("cache.answer_ttl_days", int(d.Cache.AnswerTTL/(24*time.Hour)))

	v.SetDefault("server.listen", "")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// ResolvePath picks the config file: explicit path, SLACK_DATA_BOT_CONFIG,
// ./config.yaml, then ~/.slack-data-bot/config.yaml. It returns "" when none
// exists and no path was requested.
func ResolvePath(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return requireFile(state.ExpandHome(p))
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return requireFile(state.ExpandHome(p))
	}
	candidates := []string{"config.yaml", filepath.Join(state.ExpandHome(DefaultDir), "config.yaml")}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

func requireFile(p string) (string, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s", p)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("config path is a directory: %s", p)
	}
	return p, nil
}

// LoadFile reads a YAML file, expands ${ENV} references and merges it into v.
func LoadFile(v *viper.Viper, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if doc == nil {
		return nil
	}
	expanded, err := ExpandEnv(doc)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	m, _ := expanded.(map[string]any)
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// Load wires defaults, the resolved config file and the environment into v.
// It returns the file that was used, if any.
func Load(v *viper.Viper, explicit string) (string, error) {
	SetDefaults(v)
	path, err := ResolvePath(explicit)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", nil
	}
	if err := LoadFile(v, path); err != nil {
		return "", err
	}
	return path, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${NAME} in every string of a decoded YAML tree. An unset
// variable is an error wrapping ErrMissingEnv.
func ExpandEnv(value any) (any, error) {
	switch x := value.(type) {
	case string:
		var missing string
		out := envRef.ReplaceAllStringFunc(x, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			val, ok := os.LookupEnv(name)
			if !ok && missing == "" {
				missing = name
			}
			return val
		})
		if missing != "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingEnv, missing)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			expanded, err := ExpandEnv(item)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			expanded, err := ExpandEnv(item)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return value, nil
	}
}

// FromViper builds the typed config. Bare numbers for durations are read as
// minutes for the poll interval and seconds for timeouts.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	cfg.Slack = Slack{
		BotToken:    strings.TrimSpace(v.GetString("slack.bot_token")),
		AppToken:    strings.TrimSpace(v.GetString("slack.app_token")),
		UserToken:   strings.TrimSpace(v.GetString("slack.user_token")),
		OwnerUserID: strings.TrimSpace(v.GetString("slack.owner_user_id")),
		APIBaseURL:  strings.TrimSpace(v.GetString("slack.api_base_url")),
	}

	cfg.Monitoring.PollInterval = durationKey(v, "monitoring.poll_interval", time.Minute)
	if v.IsSet("monitoring.poll_interval_minutes") {
		cfg.Monitoring.PollInterval = time.Duration(v.GetInt("monitoring.poll_interval_minutes")) * time.Minute
	}
	cfg.Monitoring.LookbackDays = v.GetInt("monitoring.lookback_days")
	var channels []monitor.Channel
	if err := v.UnmarshalKey("monitoring.channels", &channels); err != nil {
		return Config{}, fmt.Errorf("monitoring.channels: %w", err)
	}
	cfg.Monitoring.Channels = channels
	cfg.Monitoring.DomainKeywords = trimList(v.GetStringSlice("monitoring.domain_keywords"))
	cfg.Monitoring.BotUsernames = trimList(v.GetStringSlice("monitoring.bot_usernames"))
	cfg.Monitoring.OwnerUsername = strings.TrimPrefix(strings.TrimSpace(v.GetString("monitoring.owner_username")), "@")

	cfg.Engine = engine.Config{
		Backend:              strings.ToLower(strings.TrimSpace(v.GetString("engine.backend"))),
		ClaudeCodePath:       strings.TrimSpace(v.GetString("engine.claude_code_path")),
		InvestigationTimeout: durationKey(v, "engine.investigation_timeout", time.Second),
		ReviewTimeout:        durationKey(v, "engine.review_timeout", time.Second),
		MaxConcurrent:        v.GetInt("engine.max_concurrent"),
		OpenAI: engine.OpenAIConfig{
			APIKey:  strings.TrimSpace(v.GetString("engine.openai.api_key")),
			BaseURL: strings.TrimSpace(v.GetString("engine.openai.base_url")),
			Model:   strings.TrimSpace(v.GetString("engine.openai.model")),
		},
	}

	cfg.Quality = engine.QualityConfig{
		MaxRounds:       v.GetInt("quality.max_rounds"),
		MinPassCriteria: v.GetInt("quality.min_pass_criteria"),
		Criteria:        trimList(v.GetStringSlice("quality.criteria")),
	}

	cfg.Delivery = delivery.Config{
		Mode:                  strings.ToLower(strings.TrimSpace(v.GetString("delivery.mode"))),
		AutoRespondConfidence: v.GetFloat64("delivery.auto_respond_confidence"),
		MaxPending:            v.GetInt("delivery.max_pending"),
	}

	cfg.Learning = learning.Config{
		Enabled:          v.GetBool("learning.enabled"),
		StorageDir:       strings.TrimSpace(v.GetString("learning.storage_dir")),
		FeedbackTracking: v.GetBool("learning.feedback_tracking"),
	}

	cfg.Cache = state.Config{
		Directory: strings.TrimSpace(v.GetString("cache.directory")),
		AnswerTTL: time.Duration(v.GetInt("cache.answer_ttl_days")) * 24 * time.Hour,
	}

	cfg.Server = Server{
		Listen:    strings.TrimSpace(v.GetString("server.listen")),
		AuthToken: strings.TrimSpace(v.GetString("server.auth_token")),
	}

	cfg.Logging = Logging{
		Level:     strings.TrimSpace(v.GetString("logging.level")),
		Format:    strings.TrimSpace(v.GetString("logging.format")),
		AddSource: v.GetBool("logging.add_source"),
	}
	return cfg, nil
}

func durationKey(v *viper.Viper, key string, unit time.Duration) time.Duration {
	switch raw := v.Get(key).(type) {
	case int:
		return time.Duration(raw) * unit
	case int64:
		return time.Duration(raw) * unit
	case float64:
		return time.Duration(raw * float64(unit))
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return time.Duration(n) * unit
		}
	}
	return v.GetDuration(key)
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Monitoring.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitoring.poll_interval must be positive"))
	}
	if c.Monitoring.LookbackDays < 1 {
		errs = append(errs, fmt.Errorf("monitoring.lookback_days must be >= 1"))
	}
	for i, ch := range c.Monitoring.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			errs = append(errs, fmt.Errorf("monitoring.channels[%d].name is required", i))
		}
	}
	switch c.Engine.Backend {
	case engine.BackendClaudeCode, engine.BackendOpenAI:
	default:
		errs = append(errs, fmt.Errorf("engine.backend %q is not one of %s, %s", c.Engine.Backend, engine.BackendClaudeCode, engine.BackendOpenAI))
	}
	if c.Engine.Backend == engine.BackendOpenAI && c.Engine.OpenAI.APIKey == "" {
		errs = append(errs, fmt.Errorf("engine.openai.api_key is required for the openai backend"))
	}
	if c.Engine.InvestigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.investigation_timeout must be positive"))
	}
	if c.Engine.ReviewTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.review_timeout must be positive"))
	}
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("engine.max_concurrent must be >= 1"))
	}
	if c.Quality.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("quality.max_rounds must be >= 1"))
	}
	if c.Quality.MinPassCriteria < 0 {
		errs = append(errs, fmt.Errorf("quality.min_pass_criteria must be >= 0"))
	}
	switch c.Delivery.Mode {
	case delivery.ModeHumanApproval, delivery.ModeAutoRespond:
	default:
		errs = append(errs, fmt.Errorf("delivery.mode %q is not one of %s, %s", c.Delivery.Mode, delivery.ModeHumanApproval, delivery.ModeAutoRespond))
	}
	if c.Delivery.AutoRespondConfidence < 0 || c.Delivery.AutoRespondConfidence > 1 {
		errs = append(errs, fmt.Errorf("delivery.auto_respond_confidence must be within [0, 1]"))
	}
	if c.Cache.AnswerTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.answer_ttl_days must be >= 1"))
	}
	return errors.Join(errs...)
}
