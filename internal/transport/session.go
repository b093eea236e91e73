package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/statesync"
	"github.com/statetree/server/internal/wire"
)

// State is a connection's protocol phase. Inbound messages are gated on
// it; a message arriving in the wrong state is answered with an error, not
// processed.
type State int32

const (
	StateInitial State = iota
	StateConnected
	StateJoining
	StateJoined
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// websocket message types, mirrored here so frameConn stays decoupled from
// the gorilla package in tests.
const (
	frameText   = 1
	frameBinary = 2
)

// frameConn is the slice of *websocket.Conn the session needs. Tests
// implement it in memory.
type frameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// inboundHandler receives decoded envelopes and disconnects. The adapter
// implements it; sessions never touch lands directly on the read path.
type inboundHandler interface {
	HandleEnvelope(s *Session, env *wire.Envelope)
	HandleDisconnect(s *Session)
}

var (
	errSessionEnded = errors.New("session ended")
	errSlowConsumer = errors.New("slow consumer")
)

// Session is one client connection. Network I/O runs in dedicated
// goroutines; land state is only ever touched by keeper loops, reached
// through enqueues. Session implements land.Outbound for keepers to send
// back through.
type Session struct {
	ID    string
	conn  frameConn
	codec wire.Codec

	state atomic.Int32

	// outQueue feeds the writeLoop. Sends are non-blocking: a full queue
	// means the client cannot keep up and the session is closed.
	outQueue chan []byte

	// writeTimeout bounds each socket write in the writeLoop.
	writeTimeout time.Duration

	mu           sync.Mutex
	joined       map[string]*land.Keeper // by land id wire string
	pendingJoins map[string]*land.Keeper // by join requestID

	handler inboundHandler

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(id string, conn frameConn, codec wire.Codec, handler inboundHandler, outSize int, writeTimeout time.Duration, log *zap.Logger) *Session {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	s := &Session{
		ID:           id,
		conn:         conn,
		codec:        codec,
		outQueue:     make(chan []byte, outSize),
		writeTimeout: writeTimeout,
		joined:       make(map[string]*land.Keeper),
		pendingJoins: make(map[string]*land.Keeper),
		handler:      handler,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.String("session", id)),
	}
	s.state.Store(int32(StateInitial))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	s.setState(StateConnected)
	go s.readLoop()
	go s.writeLoop()
}

// Encoding names the session's negotiated codec; the keeper echoes it in
// joinResponse.
func (s *Session) Encoding() string { return s.codec.Name() }

// SendEnvelope encodes and queues one envelope. Called from keeper
// goroutines; never blocks. A successful joinResponse also moves the
// session's routing table forward here, so the transition happens exactly
// when the client learns of it.
func (s *Session) SendEnvelope(env *wire.Envelope) error {
	if env.Kind == wire.KindJoinResponse && env.JoinResponse != nil {
		s.resolveJoin(env.JoinResponse)
	}
	data, err := s.codec.EncodeEnvelope(env)
	if err != nil {
		s.log.Error("envelope encode failed", zap.Error(err))
		return err
	}
	return s.send(data)
}

// SendUpdate encodes and queues one state-update frame.
func (s *Session) SendUpdate(u *statesync.StateUpdate) error {
	data, err := s.codec.EncodeUpdate(u)
	if err != nil {
		s.log.Error("update encode failed", zap.Error(err))
		return err
	}
	return s.send(data)
}

// send queues bytes for the writeLoop. Non-blocking: a full queue
// disconnects the slow consumer rather than stalling a keeper loop.
func (s *Session) send(data []byte) error {
	if s.closed.Load() {
		return errSessionEnded
	}
	select {
	case s.outQueue <- data:
		return nil
	default:
		s.log.Warn("out queue full, disconnecting slow consumer",
			zap.String("code", wire.CodeSlowConsumer))
		s.Close()
		return errSlowConsumer
	}
}

// resolveJoin settles a tracked join request against its response.
func (s *Session) resolveJoin(jr *wire.JoinResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.pendingJoins[jr.RequestID]
	if !ok {
		return
	}
	delete(s.pendingJoins, jr.RequestID)
	if jr.Success {
		s.joined[jr.LandID] = k
		s.setState(StateJoined)
	} else if len(s.joined) == 0 {
		s.setState(StateConnected)
	}
}

// trackJoin records an in-flight join so the response can bind the land,
// and so a disconnect can clean up a join still in the keeper's queue.
func (s *Session) trackJoin(requestID string, k *land.Keeper) {
	s.mu.Lock()
	s.pendingJoins[requestID] = k
	s.mu.Unlock()
	if s.State() == StateConnected {
		s.setState(StateJoining)
	}
}

// joinedLand returns the keeper this session joined under landID.
func (s *Session) joinedLand(landID string) (*land.Keeper, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.joined[landID]
	return k, ok
}

// dropLand forgets a land after a client-initiated leave.
func (s *Session) dropLand(landID string) {
	s.mu.Lock()
	delete(s.joined, landID)
	empty := len(s.joined) == 0
	s.mu.Unlock()
	if empty && s.State() == StateJoined {
		s.setState(StateConnected)
	}
}

// lands snapshots every keeper the session is joined to or joining, for
// disconnect cleanup.
func (s *Session) lands() []*land.Keeper {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*land.Keeper, 0, len(s.joined)+len(s.pendingJoins))
	for _, k := range s.joined {
		out = append(out, k)
	}
	for _, k := range s.pendingJoins {
		out = append(out, k)
	}
	return out
}

// Close shuts the session down. Idempotent; safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setState(StateEnded)
		close(s.closeCh)
		s.conn.Close()
		if s.handler != nil {
			s.handler.HandleDisconnect(s)
		}
	})
}

func (s *Session) IsClosed() bool { return s.closed.Load() }

// readLoop reads frames, decodes them and hands them to the adapter. Any
// read or decode failure ends the session.
func (s *Session) readLoop() {
	defer s.Close()
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		env, err := s.codec.DecodeEnvelope(data)
		if err != nil {
			s.log.Warn("bad inbound frame", zap.Error(err))
			_ = s.SendEnvelope(&wire.Envelope{Kind: wire.KindError, Error: &wire.Error{
				Code:    wire.CodeBadEnvelope,
				Message: err.Error(),
			}})
			continue
		}
		s.handler.HandleEnvelope(s, env)
	}
}

// writeLoop drains the out queue onto the socket.
func (s *Session) writeLoop() {
	defer s.Close()
	msgType := frameText
	if s.codec.Binary() {
		msgType = frameBinary
	}
	for {
		select {
		case data := <-s.outQueue:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(msgType, data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
