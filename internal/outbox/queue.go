package outbox

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-relay/internal/obslog"
	"github.com/park285/xiangqi-relay/internal/protocol"
)

// Message is one buffered frame for an offline or unreachable recipient.
type Message struct {
	RecipientID string
	Payload     protocol.Envelope
	EnqueuedAt  time.Time
	RetryCount  int
}

// Queue keeps an independent FIFO per recipient.
type Queue struct {
	mu         sync.Mutex
	queues     map[string][]*Message
	maxRetries int
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New creates a queue. maxRetries <= 0 defaults to 3 and ttl <= 0 to one hour.
func New(maxRetries int, ttl time.Duration, opts ...Option) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	q := &Queue{queues: make(map[string][]*Message), maxRetries: maxRetries, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Enqueue(recipientID string, payload protocol.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[recipientID] = append(q.queues[recipientID], &Message{
		RecipientID: recipientID,
		Payload:     payload,
		EnqueuedAt:  q.now(),
	})
	obslog.L().Debug("outbox_enqueue", zap.String("recipient", recipientID), zap.String("type", payload.Type), zap.Int("depth", len(q.queues[recipientID])))
}

// DequeueAll drains the recipient's backlog in enqueue order.
func (q *Queue) DequeueAll(recipientID string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog := q.queues[recipientID]
	delete(q.queues, recipientID)
	out := make([]Message, 0, len(backlog))
	for _, m := range backlog {
		out = append(out, *m)
	}
	return out
}

// IncrementRetry bumps the retry count of the message at index. It returns
// false when there is no such message or the count reached the maximum, in
// which case the message is dropped.
func (q *Queue) IncrementRetry(recipientID string, index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog := q.queues[recipientID]
	if index < 0 || index >= len(backlog) {
		return false
	}
	m := backlog[index]
	m.RetryCount++
	if m.RetryCount < q.maxRetries {
		return true
	}
	obslog.L().Warn("outbox_retry_exhausted", zap.String("recipient", recipientID), zap.String("type", m.Payload.Type), zap.Int("retries", m.RetryCount))
	backlog = append(backlog[:index], backlog[index+1:]...)
	q.store(recipientID, backlog)
	return false
}

// Requeue puts an undelivered tail back ahead of anything enqueued since,
// counting one retry per message and dropping those that exhaust retries.
func (q *Queue) Requeue(recipientID string, tail []Message) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := make([]*Message, 0, len(tail)+len(q.queues[recipientID]))
	dropped := 0
	for i := range tail {
		m := tail[i]
		m.RetryCount++
		if m.RetryCount >= q.maxRetries {
			dropped++
			continue
		}
		kept = append(kept, &m)
	}
	kept = append(kept, q.queues[recipientID]...)
	q.store(recipientID, kept)
	if dropped > 0 {
		obslog.L().Warn("outbox_retry_exhausted", zap.String("recipient", recipientID), zap.Int("dropped", dropped))
	}
	return dropped
}

// CleanupExpired removes messages at least ttl old and deletes emptied queues.
func (q *Queue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	removed := 0
	for id, backlog := range q.queues {
		live := backlog[:0]
		for _, m := range backlog {
			if now.Sub(m.EnqueuedAt) >= q.ttl {
				removed++
				continue
			}
			live = append(live, m)
		}
		q.store(id, live)
	}
	if removed > 0 {
		obslog.L().Info("outbox_cleanup", zap.Int("expired", removed))
	}
	return removed
}

func (q *Queue) store(id string, backlog []*Message) {
	if len(backlog) == 0 {
		delete(q.queues, id)
		return
	}
	q.queues[id] = backlog
}

// Clear drops a recipient's backlog.
func (q *Queue) Clear(recipientID string) {
	q.mu.Lock()
	delete(q.queues, recipientID)
	q.mu.Unlock()
}

func (q *Queue) Len(recipientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[recipientID])
}

type Stats struct {
	Recipients int `json:"recipients"`
	Messages   int `json:"messages"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Recipients: len(q.queues)}
	for _, b := range q.queues {
		s.Messages += len(b)
	}
	return s
}
