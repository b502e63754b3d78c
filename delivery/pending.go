package delivery

import (
	"sync"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

const DefaultMaxPending = 200

// PendingApproval is a draft waiting for the owner's decision.
type PendingApproval struct {
	ID           string           `json:"id"`
	Message      *message.Message `json:"message"`
	Draft        string           `json:"draft"`
	QualityScore int              `json:"quality_score"`
	QualityTotal int              `json:"quality_total"`
	CreatedAt    time.Time        `json:"created_at"`
}

// PendingStore keeps approvals in insertion order, reachable by approval id or
// conversation key. Past capacity the oldest quarter is dropped.
type PendingStore struct {
	mu    sync.Mutex
	max   int
	order []string
	byID  map[string]*PendingApproval
	byKey map[string]string
}

func NewPendingStore(max int) *PendingStore {
	if max <= 0 {
		max = DefaultMaxPending
	}
	return &PendingStore{
		max:   max,
		byID:  map[string]*PendingApproval{},
		byKey: map[string]string{},
	}
}

// Put stores p and returns how many older approvals were evicted. A newer
// approval for the same conversation replaces the previous one.
func (s *PendingStore) Put(p *PendingApproval) int {
	if s == nil || p == nil || p.ID == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Message != nil {
		key := p.Message.ConversationKey()
		if oldID, ok := s.byKey[key]; ok {
			s.removeLocked(oldID)
		}
		s.byKey[key] = p.ID
	}
	s.byID[p.ID] = p
	s.order = append(s.order, p.ID)

	if len(s.order) <= s.max {
		return 0
	}
	evict := len(s.order) / 4
	victims := append([]string(nil), s.order[:evict]...)
	for _, id := range victims {
		s.removeLocked(id)
	}
	return evict
}

// Get resolves key as an approval id first, then as a conversation key.
func (s *PendingStore) Get(key string) (*PendingApproval, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookupLocked(key)
	return p, ok
}

// Remove drops the approval reachable through key along with its other index.
func (s *PendingStore) Remove(key string) (*PendingApproval, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lookupLocked(key)
	if !ok {
		return nil, false
	}
	s.removeLocked(p.ID)
	return p, true
}

// List returns approvals oldest first.
func (s *PendingStore) List() []PendingApproval {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingApproval, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

func (s *PendingStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *PendingStore) lookupLocked(key string) (*PendingApproval, bool) {
	if p, ok := s.byID[key]; ok {
		return p, true
	}
	if id, ok := s.byKey[key]; ok {
		p, ok := s.byID[id]
		return p, ok
	}
	return nil, false
}

func (s *PendingStore) removeLocked(id string) {
	p, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if p.Message != nil {
		key := p.Message.ConversationKey()
		if s.byKey[key] == id {
			delete(s.byKey, key)
		}
	}
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
