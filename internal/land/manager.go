package land

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDuplicateLandType = errors.New("duplicateLandType")
	ErrInvalidLandType   = errors.New("invalidLandType")
	ErrUnknownLandType   = errors.New("unknownLandType")
	ErrLandNotPublic     = errors.New("landNotPublic")
)

// LandSummary is the admin enumeration row.
type LandSummary struct {
	LandID   string `json:"landID"`
	LandType string `json:"landType"`
	Sessions int    `json:"sessions"`
	TickID   uint64 `json:"tickId"`
}

// RealmOptions carries the host-level collaborators shared by every land.
type RealmOptions struct {
	// NewRecorder builds a reevaluation recorder for a land, or returns
	// nil to record nothing.
	NewRecorder func(id LandID, def *Definition) (Recorder, error)
	Sink        SnapshotSink
	SnapshotEveryTicks int
	AdminKeyHash       []byte
	Services           map[string]any
	// ShutdownGrace bounds op draining on land removal.
	ShutdownGrace time.Duration
	Log           *zap.Logger
}

// Realm is the process-wide registry: land definitions by type plus the
// manager of live keepers. It has explicit construction and shutdown; the
// core keeps no other global state.
type Realm struct {
	mu   sync.Mutex
	defs map[string]*Definition

	manager *Manager
	opts    RealmOptions
	log     *zap.Logger
}

func NewRealm(opts RealmOptions) *Realm {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Realm{
		defs: make(map[string]*Definition),
		opts: opts,
		log:  log,
	}
	r.manager = NewManager(r.keeperOptions, opts.ShutdownGrace, log)
	r.manager.newRecorder = opts.NewRecorder
	return r
}

// RegisterDefinition adds a land type to the realm. Registration is
// fail-fast: schema validation happens here, never at message time.
func (r *Realm) RegisterDefinition(def *Definition) error {
	if def.LandType == "" {
		return ErrInvalidLandType
	}
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.LandType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLandType, def.LandType)
	}
	r.defs[def.LandType] = def
	r.log.Info("land type registered", zap.String("landType", def.LandType))
	return nil
}

// Definition looks up a registered land type.
func (r *Realm) Definition(landType string) (*Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[landType]
	return def, ok
}

// Manager returns the live land registry.
func (r *Realm) Manager() *Manager { return r.manager }

// ResolveJoin maps a join request to a land, minting a fresh instance id
// for multi-room lands when the client supplied none. The returned keeper's
// id is authoritative for all subsequent routing. Non-public land types are
// created server-side via Manager; a client join only reaches an instance
// that already exists.
func (r *Realm) ResolveJoin(landType, instanceID string) (*Keeper, error) {
	def, ok := r.Definition(landType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLandType, landType)
	}
	if def.MultiRoom && instanceID == "" {
		instanceID = uuid.NewString()
	}
	id := NewLandID(landType, instanceID)
	if !def.AllowPublic {
		k, ok := r.manager.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLandNotPublic, landType)
		}
		return k, nil
	}
	return r.manager.GetOrCreate(id, def)
}

// Shutdown stops every land, draining with the configured grace.
func (r *Realm) Shutdown() {
	r.manager.Shutdown()
}

func (r *Realm) keeperOptions(id LandID) KeeperOptions {
	opts := KeeperOptions{
		Mode:               ModeLive,
		Sink:               r.opts.Sink,
		SnapshotEveryTicks: r.opts.SnapshotEveryTicks,
		AdminKeyHash:       r.opts.AdminKeyHash,
		Services:           r.opts.Services,
		Log:                r.log,
		OnDestroy: func(id LandID) {
			r.manager.Remove(id)
		},
	}
	return opts
}

// Manager is the multi-land registry keyed by LandID.
type Manager struct {
	mu    sync.Mutex
	lands map[LandID]*Keeper

	keeperOpts func(id LandID) KeeperOptions
	newRecorder func(id LandID, def *Definition) (Recorder, error)
	grace      time.Duration
	log        *zap.Logger
}

func NewManager(keeperOpts func(id LandID) KeeperOptions, grace time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		lands:      make(map[LandID]*Keeper),
		keeperOpts: keeperOpts,
		grace:      grace,
		log:        log,
	}
}

// GetOrCreate returns the keeper for id, creating and starting it if
// needed. Atomic: concurrent callers never create two keepers for one id.
func (m *Manager) GetOrCreate(id LandID, def *Definition) (*Keeper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.lands[id]; ok {
		return k, nil
	}
	opts := m.keeperOpts(id)
	if m.newRecorder != nil {
		rec, err := m.newRecorder(id, def)
		if err != nil {
			return nil, fmt.Errorf("recorder for %s: %w", id, err)
		}
		opts.Recorder = rec
	}
	k, err := NewKeeper(id, def, opts)
	if err != nil {
		return nil, err
	}
	m.lands[id] = k
	k.Start()
	m.log.Info("land created", zap.String("land", id.String()))
	return k, nil
}

// Get returns the live keeper for id.
func (m *Manager) Get(id LandID) (*Keeper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.lands[id]
	return k, ok
}

// Remove drains and destroys a land: new ops are rejected, queued ops get
// the grace period, then afterFinalize runs and resources release.
func (m *Manager) Remove(id LandID) {
	m.mu.Lock()
	k, ok := m.lands[id]
	if ok {
		delete(m.lands, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	k.Stop(m.grace)
	k.Finalize()
	m.log.Info("land removed", zap.String("land", id.String()))
}

// Enumerate lists live lands for admin inspection, ordered by id.
func (m *Manager) Enumerate() []LandSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LandSummary, 0, len(m.lands))
	for id, k := range m.lands {
		out = append(out, LandSummary{
			LandID:   id.String(),
			LandType: id.Type,
			Sessions: k.SessionCount(),
			TickID:   k.TickID(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LandID < out[j].LandID })
	return out
}

// Shutdown removes every land.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]LandID, 0, len(m.lands))
	for id := range m.lands {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Remove(id)
	}
}
