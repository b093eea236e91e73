package land

import (
	"sync"
)

// Internal op kinds. One land processes its ops strictly in queue order.
type op interface{ opKind() string }

type joinOp struct {
	sess      *SessionInfo
	meta      map[string]string
	requestID string
}

type leaveOp struct {
	sessionID string
	reason    string
}

type actionOp struct {
	sessionID      string
	typeIdentifier string
	payload        []byte
	requestID      string
	// synthetic actions come from Spawn subtasks; they have no session.
	synthetic bool
}

type clientEventOp struct {
	sessionID      string
	typeIdentifier string
	payload        []byte
}

type tickOp struct{}

type adminOp struct {
	sessionID string
	requestID string
	command   string
	key       string
	args      map[string]string
}

func (joinOp) opKind() string        { return "join" }
func (leaveOp) opKind() string       { return "leave" }
func (actionOp) opKind() string      { return "action" }
func (clientEventOp) opKind() string { return "event" }
func (tickOp) opKind() string        { return "tick" }
func (adminOp) opKind() string       { return "admin" }

// opQueue is the keeper's unbounded ordered mailbox. Push never blocks;
// correctness over tail-drop, per the backpressure design (inbound
// admission control, if any, belongs to the transport adapter).
type opQueue struct {
	mu     sync.Mutex
	items  []op
	signal chan struct{}
	closed bool
}

func newOpQueue() *opQueue {
	return &opQueue{signal: make(chan struct{}, 1)}
}

// push appends an op. Returns false once the queue is closed.
func (q *opQueue) push(o op) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, o)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop blocks for the next op. Returns false when the queue is closed and
// drained, or when stop fires.
func (q *opQueue) pop(stop <-chan struct{}) (op, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			o := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return o, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-q.signal:
		case <-stop:
			return nil, false
		}
	}
}

// tryPop returns the next op without blocking.
func (q *opQueue) tryPop() (op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	o := q.items[0]
	q.items = q.items[1:]
	return o, true
}

// close rejects further pushes. Queued ops remain poppable via tryPop.
func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns all remaining ops.
func (q *opQueue) drain() []op {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
