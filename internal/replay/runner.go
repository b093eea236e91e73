package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/statesync"
	"github.com/statetree/server/internal/wire"
)

// Phase is the runner's lifecycle stage.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseVerifying Phase = "verifying"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Status is the runner's observable progress. A hash mismatch is a
// recorded outcome here, never an error.
type Status struct {
	Phase            Phase  `json:"phase"`
	CurrentTick      int    `json:"currentTick"`
	TotalTicks       int    `json:"totalTicks"`
	CorrectTicks     int    `json:"correctTicks"`
	MismatchedTicks  int    `json:"mismatchedTicks"`
	LastComputedHash string `json:"lastComputedHash,omitempty"`
	LastRecordedHash string `json:"lastRecordedHash,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

// Runner re-executes a recorded op log against a land definition and
// compares state hashes tick by tick.
type Runner struct {
	def  *land.Definition
	path string
	log  *zap.Logger

	// RequiredFormatVersion, when non-zero, must match the record header.
	RequiredFormatVersion int

	mu        sync.Mutex
	status    Status
	paused    bool
	cancelled bool
	projected statesync.Value
}

func NewRunner(def *land.Definition, recordPath string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		def:    def,
		path:   recordPath,
		log:    log.With(zap.String("record", recordPath)),
		status: Status{Phase: PhaseIdle},
	}
}

// Status returns a copy of the current progress.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ProjectedState returns the replayed state snapshot after the last
// verified step, for inspection tooling.
func (r *Runner) ProjectedState() statesync.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projected
}

// Pause suspends the step loop before its next iteration.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Phase == PhaseVerifying {
		r.paused = true
		r.status.Phase = PhasePaused
	}
}

// Resume continues a paused run.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		r.paused = false
		r.status.Phase = PhaseVerifying
	}
}

// Stop cancels the run; the step loop notices before its next step.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	r.paused = false
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.status.Phase = p
	r.mu.Unlock()
}

func (r *Runner) fail(code string, err error) error {
	r.mu.Lock()
	r.status.Phase = PhaseFailed
	r.status.ErrorMessage = fmt.Sprintf("%s: %v", code, err)
	r.mu.Unlock()
	return fmt.Errorf("%s: %w", code, err)
}

// Run loads the record, checks compatibility fail-fast, then replays every
// op and compares hashes. Mismatches are counted, not fatal.
func (r *Runner) Run(ctx context.Context) error {
	r.setPhase(PhaseLoading)

	rec, err := ReadRecord(r.path)
	if err != nil {
		return r.fail(wire.CodeUnknown, err)
	}
	if rec.Header.LandType != r.def.LandType {
		return r.fail(wire.CodeLandTypeMismatch,
			fmt.Errorf("recorded %q, expected %q", rec.Header.LandType, r.def.LandType))
	}
	if rec.Header.LandDefinitionID != r.def.ID() {
		return r.fail(wire.CodeSchemaMismatch,
			fmt.Errorf("recorded %q, expected %q", rec.Header.LandDefinitionID, r.def.ID()))
	}
	if r.RequiredFormatVersion != 0 && rec.Header.RecordFormatVersion != r.RequiredFormatVersion {
		return r.fail(wire.CodeRecordVersionMismatch,
			fmt.Errorf("recorded version %d, required %d", rec.Header.RecordFormatVersion, r.RequiredFormatVersion))
	}

	keeper, err := land.NewKeeper(land.ParseLandID(rec.Header.LandID), r.def, land.KeeperOptions{
		Mode: land.ModeReevaluation,
		Log:  r.log,
	})
	if err != nil {
		return r.fail(wire.CodeSchemaMismatch, err)
	}

	r.mu.Lock()
	r.status.Phase = PhaseVerifying
	r.status.TotalTicks = len(rec.Entries)
	r.mu.Unlock()

	for i, entry := range rec.Entries {
		if err := r.waitIfPaused(ctx); err != nil {
			return err
		}

		computed, err := keeper.ReplayStep(entry)
		if err != nil {
			return r.fail(wire.CodeUnknown, fmt.Errorf("step %d: %w", i+1, err))
		}

		r.mu.Lock()
		r.status.CurrentTick = i + 1
		r.status.LastComputedHash = computed
		r.status.LastRecordedHash = entry.StateHash
		if computed == entry.StateHash {
			r.status.CorrectTicks++
		} else {
			r.status.MismatchedTicks++
		}
		r.projected = keeper.ProjectedState()
		r.mu.Unlock()
	}

	r.setPhase(PhaseCompleted)
	st := r.Status()
	r.log.Info("replay completed",
		zap.Int("ticks", st.TotalTicks),
		zap.Int("correct", st.CorrectTicks),
		zap.Int("mismatched", st.MismatchedTicks))
	return nil
}

// waitIfPaused blocks while paused, polling the control flags the way the
// step loop contract requires: one check per iteration, sleep when held.
func (r *Runner) waitIfPaused(ctx context.Context) error {
	for {
		r.mu.Lock()
		cancelled, paused := r.cancelled, r.paused
		r.mu.Unlock()
		if cancelled {
			r.setPhase(PhaseFailed)
			r.mu.Lock()
			r.status.ErrorMessage = "stopped"
			r.mu.Unlock()
			return fmt.Errorf("replay stopped")
		}
		if ctx.Err() != nil {
			r.setPhase(PhaseFailed)
			return ctx.Err()
		}
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
		}
	}
}
