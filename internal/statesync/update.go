package statesync

// UpdateType tags a state-update frame.
type UpdateType string

const (
	UpdateFirstSync UpdateType = "firstSync"
	UpdateDiff      UpdateType = "diff"
	UpdateNoChange  UpdateType = "noChange"
)

// StateUpdate is one per-session sync emission.
type StateUpdate struct {
	Type    UpdateType `json:"type" msgpack:"type"`
	Patches []Patch    `json:"patches,omitempty" msgpack:"patches,omitempty"`
}

// NoChange is the empty update. The transport may drop it instead of
// sending; either way it must not count as a packet.
var NoChange = StateUpdate{Type: UpdateNoChange}

// Tracker carries one session's sync bookkeeping: the last snapshot it was
// sent and whether the initial full sync is still pending.
type Tracker struct {
	last    Value
	pending bool
}

// NewTracker returns a tracker in first-sync-pending state.
func NewTracker() *Tracker {
	return &Tracker{pending: true}
}

// FirstSyncPending reports whether the session has not yet received a full
// snapshot.
func (t *Tracker) FirstSyncPending() bool { return t.pending }

// Last returns the last snapshot sent to the session.
func (t *Tracker) Last() Value { return t.last }

// Update computes the emission for the current per-session snapshot and
// advances the bookkeeping. First call emits firstSync; later calls emit a
// diff or NoChange.
func (t *Tracker) Update(current Value) StateUpdate {
	if t.pending {
		t.pending = false
		t.last = current
		return StateUpdate{Type: UpdateFirstSync, Patches: FirstSync(current)}
	}
	patches := Diff(t.last, current)
	t.last = current
	if len(patches) == 0 {
		return NoChange
	}
	return StateUpdate{Type: UpdateDiff, Patches: patches}
}

// ApplyShared advances the tracker using a diff computed once for all
// broadcast-only changes. The patches touch only broadcast paths, so they
// compose onto any session's last snapshot.
func (t *Tracker) ApplyShared(patches []Patch) (StateUpdate, error) {
	next, err := Apply(t.last, patches)
	if err != nil {
		return NoChange, err
	}
	t.last = next
	if len(patches) == 0 {
		return NoChange, nil
	}
	return StateUpdate{Type: UpdateDiff, Patches: patches}, nil
}
