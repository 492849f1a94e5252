package session

import "sync"

// RunState tracks the primary analysis run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
)

// Progress checkpoints for a primary run.
const (
	ProgressRequested = 20
	ProgressReceived  = 70
	ProgressText      = 95
	ProgressAudio     = 100
)

// ReportSnapshot is a read-only copy of the report state.
type ReportSnapshot struct {
	Primary     string
	HasPrimary  bool
	Extended    string
	HasExtended bool
	Progress    int
	State       RunState
}

// Report owns the primary and extended report text and the run progress.
//
// Each pipeline holds a generation number. Writes carry the generation they
// were started with and are dropped once a newer run has begun, so a slow
// response never overwrites a newer one. Starting or completing a primary run
// also invalidates every extended run derived from the old primary.
type Report struct {
	mu sync.RWMutex

	primary     string
	hasPrimary  bool
	extended    string
	hasExtended bool
	progress    int
	state       RunState

	primaryGen  uint64
	extendedGen uint64
}

// NewReport returns an idle, empty report.
func NewReport() *Report {
	return &Report{state: StateIdle}
}

// BeginPrimary starts a new primary run. Previously displayed reports are
// blanked immediately so a slow re-run never shows stale text as complete.
func (r *Report) BeginPrimary() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primaryGen++
	r.extendedGen++
	r.primary, r.hasPrimary = "", false
	r.extended, r.hasExtended = "", false
	r.progress = 0
	r.state = StateRunning
	return r.primaryGen
}

// Advance moves progress forward for run gen. Progress never regresses.
func (r *Report) Advance(gen uint64, pct int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.primaryGen {
		return false
	}
	if pct > 100 {
		pct = 100
	}
	if pct > r.progress {
		r.progress = pct
	}
	return true
}

// CompletePrimary stores the text of run gen and clears the extended report.
func (r *Report) CompletePrimary(gen uint64, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.primaryGen {
		return false
	}
	r.primary, r.hasPrimary = text, true
	r.extended, r.hasExtended = "", false
	r.extendedGen++
	r.state = StateSucceeded
	return true
}

// FailPrimary marks run gen failed: no primary text and progress back at 0.
func (r *Report) FailPrimary(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.primaryGen {
		return false
	}
	r.primary, r.hasPrimary = "", false
	r.progress = 0
	r.state = StateFailed
	return true
}

// Settle returns a finished run gen to idle with progress 0.
func (r *Report) Settle(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.primaryGen || r.state == StateRunning {
		return false
	}
	r.progress = 0
	r.state = StateIdle
	return true
}

// PrimaryCurrent reports whether gen is still the latest primary run.
func (r *Report) PrimaryCurrent(gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gen == r.primaryGen
}

// BeginExtended starts an extended run. It fails when no primary exists.
func (r *Report) BeginExtended() (gen uint64, primary string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasPrimary {
		return 0, "", false
	}
	r.extendedGen++
	return r.extendedGen, r.primary, true
}

// CompleteExtended stores the extended text of run gen.
func (r *Report) CompleteExtended(gen uint64, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.extendedGen || !r.hasPrimary {
		return false
	}
	r.extended, r.hasExtended = text, true
	return true
}

// FailExtended clears the extended report for run gen.
func (r *Report) FailExtended(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.extendedGen {
		return false
	}
	r.extended, r.hasExtended = "", false
	return true
}

// ExtendedCurrent reports whether gen is still the latest extended run.
func (r *Report) ExtendedCurrent(gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gen == r.extendedGen
}

// Primary returns the primary report text and whether it is set.
func (r *Report) Primary() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary, r.hasPrimary
}

// Extended returns the extended report text and whether it is set.
func (r *Report) Extended() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extended, r.hasExtended
}

// Progress returns the primary run progress, 0..100.
func (r *Report) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// State returns the primary run state.
func (r *Report) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Snapshot copies the whole report state under one lock.
func (r *Report) Snapshot() ReportSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ReportSnapshot{
		Primary:     r.primary,
		HasPrimary:  r.hasPrimary,
		Extended:    r.extended,
		HasExtended: r.hasExtended,
		Progress:    r.progress,
		State:       r.state,
	}
}
