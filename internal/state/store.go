// Package state persists which conversations were answered, the review queue and
// simple counters in a single JSON file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

const (
	stateFileName    = "state.json"
	DefaultAnswerTTL = 30 * 24 * time.Hour
	summaryCharLimit = 200
)

type Config struct {
	Directory string
	AnswerTTL time.Duration
}

type AnsweredEntry struct {
	MessageTS  string    `json:"message_ts"`
	ChannelID  string    `json:"channel_id"`
	Summary    string    `json:"summary"`
	AnsweredAt time.Time `json:"answered_at"`
}

type QueueEntry struct {
	Key         string    `json:"key"`
	MessageTS   string    `json:"message_ts"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	Text        string    `json:"text"`
	Priority    int       `json:"priority"`
	QueuedAt    time.Time `json:"queued_at"`
}

type Stats struct {
	TotalQuestions int `json:"total_questions"`
	TotalAnswered  int `json:"total_answered"`
}

// Snapshot is the on-disk document.
type Snapshot struct {
	Answered   map[string]AnsweredEntry `json:"answered"`
	InProgress map[string]time.Time     `json:"in_progress"`
	Queue      []QueueEntry             `json:"queue"`
	LastPoll   *time.Time               `json:"last_poll"`
	Stats      Stats                    `json:"stats"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Answered:   map[string]AnsweredEntry{},
		InProgress: map[string]time.Time{},
		Queue:      []QueueEntry{},
	}
}

// FileStore reads and rewrites state.json on every operation.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	path   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewFileStore(cfg Config, logger *slog.Logger) (*FileStore, error) {
	dir := ExpandHome(cfg.Directory)
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := EnsureSecureDir(dir); err != nil {
		return nil, fmt.Errorf("state directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	ttl := cfg.AnswerTTL
	if ttl <= 0 {
		ttl = DefaultAnswerTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    abs,
		path:   filepath.Join(abs, stateFileName),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns the stored snapshot, or an empty one when the file is missing or corrupt.
func (s *FileStore) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() Snapshot {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("state_load_error", "path", s.path, "error", err.Error())
		}
		return emptySnapshot()
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Warn("state_corrupt", "path", s.path, "error", err.Error())
		return emptySnapshot()
	}
	if snap.Answered == nil {
		snap.Answered = map[string]AnsweredEntry{}
	}
	if snap.InProgress == nil {
		snap.InProgress = map[string]time.Time{}
	}
	if snap.Queue == nil {
		snap.Queue = []QueueEntry{}
	}
	return snap
}

func (s *FileStore) saveLocked(snap Snapshot) error {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".state_*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *FileStore) update(fn func(*Snapshot) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.loadLocked()
	if !fn(&snap) {
		return nil
	}
	if err := s.saveLocked(snap); err != nil {
		s.logger.Warn("state_save_error", "path", s.path, "error", err.Error())
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// MarkAnswered records msg's conversation as answered and drops it from the queue.
func (s *FileStore) MarkAnswered(msg *message.Message, summary string) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	key := msg.ConversationKey()
	summary = message.TruncateRunes(summary, summaryCharLimit)
	return s.update(func(snap *Snapshot) bool {
		snap.Answered[key] = AnsweredEntry{
			MessageTS:  msg.TS,
			ChannelID:  msg.ChannelID,
			Summary:    summary,
			AnsweredAt: s.now().UTC(),
		}
		snap.Stats.TotalAnswered++
		delete(snap.InProgress, key)
		snap.Queue = removeQueued(snap.Queue, key)
		return true
	})
}

func (s *FileStore) IsAnswered(key string) bool {
	_, ok := s.Load().Answered[strings.TrimSpace(key)]
	return ok
}

// AnsweredKeys lists the conversation keys already answered.
func (s *FileStore) AnsweredKeys() map[string]struct{} {
	snap := s.Load()
	out := make(map[string]struct{}, len(snap.Answered))
	for k := range snap.Answered {
		out[k] = struct{}{}
	}
	return out
}

// Prune drops answered entries older than the TTL and reports how many went.
func (s *FileStore) Prune() (int, error) {
	removed := 0
	cutoff := s.now().UTC().Add(-s.ttl)
	err := s.update(func(snap *Snapshot) bool {
		for key, entry := range snap.Answered {
			if entry.AnsweredAt.Before(cutoff) {
				delete(snap.Answered, key)
				removed++
			}
		}
		return removed > 0
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("state_pruned", "removed", removed, "ttl", s.ttl.String())
	}
	return removed, nil
}

// AddToQueue records msg as waiting for review. A conversation is queued once.
func (s *FileStore) AddToQueue(msg *message.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	key := msg.ConversationKey()
	return s.update(func(snap *Snapshot) bool {
		for _, q := range snap.Queue {
			if q.Key == key {
				return false
			}
		}
		snap.Queue = append(snap.Queue, QueueEntry{
			Key:         key,
			MessageTS:   msg.TS,
			ChannelID:   msg.ChannelID,
			ChannelName: msg.ChannelName,
			UserID:      msg.UserID,
			UserName:    msg.UserName,
			Text:        msg.Text,
			Priority:    msg.Priority,
			QueuedAt:    s.now().UTC(),
		})
		snap.InProgress[key] = s.now().UTC()
		snap.Stats.TotalQuestions++
		return true
	})
}

func (s *FileStore) RemoveFromQueue(key string) error {
	key = strings.TrimSpace(key)
	return s.update(func(snap *Snapshot) bool {
		before := len(snap.Queue)
		snap.Queue = removeQueued(snap.Queue, key)
		_, inProgress := snap.InProgress[key]
		delete(snap.InProgress, key)
		return before != len(snap.Queue) || inProgress
	})
}

func (s *FileStore) Queue() []QueueEntry {
	return s.Load().Queue
}

func (s *FileStore) SetLastPoll(t time.Time) error {
	t = t.UTC()
	return s.update(func(snap *Snapshot) bool {
		snap.LastPoll = &t
		return true
	})
}

func (s *FileStore) Stats() Stats {
	return s.Load().Stats
}

func removeQueued(queue []QueueEntry, key string) []QueueEntry {
	out := queue[:0]
	for _, q := range queue {
		if q.Key != key {
			out = append(out, q)
		}
	}
	return out
}

// Nop is a store that remembers nothing.
type Nop struct{}

func (Nop) MarkAnswered(*message.Message, string) error { return nil }
func (Nop) AnsweredKeys() map[string]struct{} { return map[string]struct{}{} }
func (Nop) Prune() (int, error) { return 0, nil }
func (Nop) AddToQueue(*message.Message) error { return nil }
func (Nop) RemoveFromQueue(string) error { return nil }
func (Nop) SetLastPoll(time.Time) error { return nil }
func (Nop) Stats() Stats { return Stats{} }
