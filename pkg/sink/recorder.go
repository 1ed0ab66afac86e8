package sink

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Op is the kind of a recorded sink call.
type Op int

const (
	OpWrite Op = iota
	OpRelease
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "release"
}

// Call is one recorded sink call. Duty is zero for releases.
type Call struct {
	Op      Op
	Channel int
	Duty    float64
}

func (c Call) String() string {
	if c.Op == OpWrite {
		return fmt.Sprintf("write ch%d=%.3f%%", c.Channel, c.Duty)
	}
	return fmt.Sprintf("release ch%d", c.Channel)
}

type failure struct {
	op      Op
	channel int
}

// Recorder is an in-memory sink. It backs the dry-run backend and tests.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	failures map[failure]error
	log      logrus.FieldLogger
}

// NewRecorder creates a recorder. When log is non-nil every call is logged
// at info level.
func NewRecorder(log logrus.FieldLogger) *Recorder {
	return &Recorder{
		failures: make(map[failure]error),
		log:      log,
	}
}

// FailOn makes every later op on channel return err. A nil err clears it.
func (r *Recorder) FailOn(op Op, channel int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, failure{op, channel})
		return
	}
	r.failures[failure{op, channel}] = err
}

func (r *Recorder) WriteDuty(channel int, dutyPercent float64) error {
	if dutyPercent < 0 || dutyPercent > 100 {
		return fmt.Errorf("duty %.3f%% outside [0, 100]", dutyPercent)
	}
	return r.record(Call{Op: OpWrite, Channel: channel, Duty: dutyPercent})
}

func (r *Recorder) ReleaseChannel(channel int) error {
	return r.record(Call{Op: OpRelease, Channel: channel})
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failures[failure{c.Op, c.Channel}]; ok {
		return err
	}
	r.calls = append(r.calls, c)
	if r.log != nil {
		r.log.WithFields(logrus.Fields{
			"op":      c.Op.String(),
			"channel": c.Channel,
			"duty":    c.Duty,
		}).Info("dry-run")
	}
	return nil
}

// Close releases nothing; it exists so Recorder satisfies Device.
func (r *Recorder) Close() error { return nil }

// Calls returns a copy of all recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Writes returns only the recorded writes.
func (r *Recorder) Writes() []Call {
	return r.filter(OpWrite)
}

// Releases returns only the recorded releases.
func (r *Recorder) Releases() []Call {
	return r.filter(OpRelease)
}

func (r *Recorder) filter(op Op) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
