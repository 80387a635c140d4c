package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/ops-messaging/internal/model"
	"github.com/jmoiron/sqlx"
)

// MemoryWorkflows is a process-local WorkflowsRepository. The CAS holds the
// write lock, which gives the same exactly-once guarantee as the MySQL
// conditional update inside one process.
type MemoryWorkflows struct {
	mu   sync.RWMutex
	rows map[string]model.Workflow
}

func NewMemoryWorkflows() *MemoryWorkflows {
	return &MemoryWorkflows{rows: make(map[string]model.Workflow)}
}

var _ WorkflowsRepository = (*MemoryWorkflows)(nil)

func (s *MemoryWorkflows) CreateWorkflow(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[wf.ID]; ok {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	s.rows[wf.ID] = wf
	return nil
}

func (s *MemoryWorkflows) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (s *MemoryWorkflows) ResolveIfPending(_ context.Context, id string, r model.Resolution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.rows[id]
	if !ok || wf.Status != model.WorkflowPending {
		return false, nil
	}
	s.rows[id] = r.Apply(wf)
	return true, nil
}

func (s *MemoryWorkflows) ExpirePending(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.Workflow
	for _, wf := range s.rows {
		if wf.Status == model.WorkflowPending && wf.ExpiresAt.Before(now) {
			due = append(due, wf)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	res := model.Resolution{Status: model.WorkflowExpired, ResolvedAt: now}
	for _, wf := range due {
		s.rows[wf.ID] = res.Apply(wf)
	}
	return len(due), nil
}

// MemoryMessages keeps send attempts in insertion order.
type MemoryMessages struct {
	mu   sync.RWMutex
	rows []model.Message
}

func NewMemoryMessages() *MemoryMessages { return &MemoryMessages{} }

var _ MessagesRepository = (*MemoryMessages)(nil)

func (s *MemoryMessages) InsertMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	s.rows = append(s.rows, m)
	s.mu.Unlock()
	return nil
}

func (s *MemoryMessages) ListByWorkflow(_ context.Context, workflowID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.rows {
		if m.WorkflowID != nil && *m.WorkflowID == workflowID {
			out = append(out, m)
		}
	}
	return out, nil
}

// All returns a copy of every recorded attempt.
func (s *MemoryMessages) All() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.rows...)
}

var _ OutboxRepository = (*MemoryOutbox)(nil)

// MemoryOutbox collects published events instead of writing SQL rows.
type MemoryOutbox struct {
	mu     sync.Mutex
	events []model.OutboxEvent
	now    func() time.Time
}

func NewMemoryOutbox() *MemoryOutbox { return &MemoryOutbox{now: time.Now} }

func (o *MemoryOutbox) Insert(_ context.Context, _ *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, model.OutboxEvent{
		ID:          int64(len(o.events) + 1),
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		Topic:       topic,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   o.now(),
	})
	return nil
}

// Events returns the published events with the given topic.
func (o *MemoryOutbox) Events(topic string) []model.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range o.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

var _ OperatorsRepository = (*MemoryOperators)(nil)

// MemoryOperators keys operators by api key.
type MemoryOperators struct {
	mu    sync.RWMutex
	byKey map[string]model.Operator
	next  int64
}

func NewMemoryOperators(ops ...model.Operator) *MemoryOperators {
	m := &MemoryOperators{byKey: make(map[string]model.Operator)}
	for _, op := range ops {
		_ = m.Upsert(context.Background(), op)
	}
	return m
}

func (m *MemoryOperators) GetByAPIKey(_ context.Context, apiKey string) (*model.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.byKey[apiKey]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (m *MemoryOperators) Upsert(_ context.Context, op model.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := m.byKey[op.APIKey]; ok {
		op.ID, op.CreatedAt = old.ID, old.CreatedAt
	} else {
		m.next++
		op.ID, op.CreatedAt = m.next, now
	}
	op.UpdatedAt = now
	m.byKey[op.APIKey] = op
	return nil
}
