package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/book-expert/narrator/internal/core"
)

// State is the lifecycle position of a synthesis job.
type State int

// Job states. A job starts Pending, moves to InFlight for every engine call,
// and ends Succeeded or FailedTerminal. Retrying and FailedFallback lead back
// to InFlight.
const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateRetrying
	StateFailedFallback
	StateFailedTerminal
)

var stateNames = [...]string{"Pending", "InFlight", "Succeeded", "Retrying", "FailedFallback", "FailedTerminal"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "Unknown"
}

// Transition is one recorded state change.
type Transition struct {
	At     time.Time
	Engine string
	Err    string
	From   State
	To     State
}

// Job is the record of one segment's synthesis.
type Job struct {
	Profile     core.VoiceProfile
	Fingerprint core.Fingerprint
	Engine      string
	Segment     core.TextSegment
	History     []Transition
	Attempts    int
	State       State
	Cached      bool
}

// Summary joins the outcome-relevant states of the history, for example
// "FailedFallback→Succeeded". A job that succeeded directly reads "Succeeded".
func (j Job) Summary() string {
	var parts []string

	for _, transition := range j.History {
		switch transition.To {
		case StateSucceeded, StateFailedFallback, StateFailedTerminal:
			parts = append(parts, transition.To.String())
		case StatePending, StateInFlight, StateRetrying:
		}
	}

	return strings.Join(parts, "→")
}

// jobRecord guards a Job that is written by the segment's task and by the
// single-flight call it leads.
type jobRecord struct {
	now func() time.Time
	job Job
	mu  sync.Mutex
}

func newJobRecord(segment core.TextSegment, profile core.VoiceProfile, engineID string, now func() time.Time) *jobRecord {
	return &jobRecord{
		now: now,
		job: Job{Segment: segment, Profile: profile, Engine: engineID, State: StatePending},
	}
}

// transition records a move to state. It returns the previous state.
func (r *jobRecord) transition(to State, engineID string, err error) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.job.State
	entry := Transition{From: from, To: to, Engine: engineID, At: r.now()}

	if err != nil {
		entry.Err = err.Error()
	}

	if to == StateInFlight {
		r.job.Attempts++
	}

	r.job.Engine = engineID
	r.job.State = to
	r.job.History = append(r.job.History, entry)

	return from
}

func (r *jobRecord) setCached(fp core.Fingerprint, cached bool) {
	r.mu.Lock()
	r.job.Fingerprint = fp
	r.job.Cached = cached
	r.mu.Unlock()
}

func (r *jobRecord) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.job
	job.History = append([]Transition(nil), r.job.History...)

	return job
}
