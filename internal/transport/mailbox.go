package transport

import (
	"context"
	"sync"
)

type mailKey struct {
	ctx uint64
	src int
	tag int
}

// Mailbox buffers delivered messages until a matching Recv takes them.
// Thread-safe.
type Mailbox struct {
	mu      sync.Mutex
	queues  map[mailKey][][]float64
	waiters map[mailKey]chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
	abortErr  *AbortError
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues:  make(map[mailKey][][]float64),
		waiters: make(map[mailKey]chan struct{}),
		aborted: make(chan struct{}),
	}
}

// Put enqueues a message. The mailbox takes ownership of data.
func (m *Mailbox) Put(contextID uint64, src, tag int, data []float64) error {
	if err := m.Err(); err != nil {
		return err
	}
	k := mailKey{ctx: contextID, src: src, tag: tag}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[k] = append(m.queues[k], data)
	if ch, ok := m.waiters[k]; ok {
		close(ch)
		delete(m.waiters, k)
	}
	return nil
}

// Take removes the oldest message matching (contextID, src, tag), blocking
// until one arrives, ctx is done, or the mailbox is aborted.
func (m *Mailbox) Take(ctx context.Context, contextID uint64, src, tag int) ([]float64, error) {
	k := mailKey{ctx: contextID, src: src, tag: tag}
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			data := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return data, nil
		}
		ch, ok := m.waiters[k]
		if !ok {
			ch = make(chan struct{})
			m.waiters[k] = ch
		}
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.aborted:
			return nil, m.abortErr
		}
	}
}

// Pending returns the number of buffered, not yet received messages.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Abort fails all current and future Take and Put calls. Only the first
// call has an effect.
func (m *Mailbox) Abort(code int, reason string) {
	m.abortOnce.Do(func() {
		m.abortErr = &AbortError{Code: code, Reason: reason}
		close(m.aborted)
	})
}

// Err returns the abort error, or nil while the mailbox is live.
func (m *Mailbox) Err() error {
	select {
	case <-m.aborted:
		return m.abortErr
	default:
		return nil
	}
}
