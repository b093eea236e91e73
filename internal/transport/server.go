package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/wire"
)

// Server upgrades HTTP connections to websocket sessions and wires them to
// the realm through an Adapter.
type Server struct {
	adapter      *Adapter
	upgrader     websocket.Upgrader
	outSize      int
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	httpSrv *http.Server
	log     *zap.Logger
}

// ServerOptions configures the websocket front.
type ServerOptions struct {
	// OutQueueSize bounds each session's outbound queue; a client that
	// falls this many frames behind is disconnected.
	OutQueueSize int
	// WriteTimeout bounds each socket write; zero means 10s.
	WriteTimeout time.Duration
	// CheckOrigin overrides the upgrader's origin policy. Nil allows all,
	// which suits same-binary game clients.
	CheckOrigin func(r *http.Request) bool
	Log         *zap.Logger
}

func NewServer(realm *land.Realm, opts ServerOptions) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	outSize := opts.OutQueueSize
	if outSize <= 0 {
		outSize = 256
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		adapter: NewAdapter(realm, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		outSize:      outSize,
		writeTimeout: opts.WriteTimeout,
		sessions:     make(map[string]*Session),
		log:          log,
	}
}

// ServeHTTP upgrades one connection. The encoding is negotiated from the
// "encoding" query parameter and fixed for the session's life; an unknown
// name is refused before the upgrade.
func (sv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, err := wire.ForEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := sv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sv.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	s := NewSession(id, conn, codec, &trackedHandler{sv: sv, inner: sv.adapter}, sv.outSize, sv.writeTimeout, sv.log)
	sv.mu.Lock()
	sv.sessions[id] = s
	sv.mu.Unlock()

	sv.log.Info("session connected",
		zap.String("session", id),
		zap.String("remote", r.RemoteAddr),
		zap.String("encoding", codec.Name()))
	s.Start()
}

// trackedHandler removes sessions from the server's registry on
// disconnect, then defers to the adapter.
type trackedHandler struct {
	sv    *Server
	inner *Adapter
}

func (t *trackedHandler) HandleEnvelope(s *Session, env *wire.Envelope) {
	t.inner.HandleEnvelope(s, env)
}

func (t *trackedHandler) HandleDisconnect(s *Session) {
	t.sv.mu.Lock()
	delete(t.sv.sessions, s.ID)
	t.sv.mu.Unlock()
	t.sv.log.Info("session disconnected", zap.String("session", s.ID))
	t.inner.HandleDisconnect(s)
}

// SessionCount reports live connections.
func (sv *Server) SessionCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// ListenAndServe blocks serving websocket upgrades on addr at path /ws.
func (sv *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", sv)
	sv.httpSrv = &http.Server{Addr: addr, Handler: mux}
	sv.log.Info("listening", zap.String("addr", addr))
	err := sv.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting upgrades and closes every live session.
func (sv *Server) Shutdown(ctx context.Context) {
	if sv.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = sv.httpSrv.Shutdown(shutdownCtx)
	}
	sv.mu.Lock()
	open := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		open = append(open, s)
	}
	sv.mu.Unlock()
	for _, s := range open {
		s.Close()
	}
}
