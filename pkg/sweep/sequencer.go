// Package sweep drives a set of actuators through timed, synchronized motion
// sequences.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/servo"
)

var (
	ErrBusy        = errors.New("sequence already running")
	ErrStopped     = errors.New("sequencer stopped")
	ErrInterrupted = errors.New("sequence interrupted")
)

// State is the sequencer lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StepError attaches the index of the failing step to an error.
type StepError struct {
	Step     int
	Actuator string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// EventKind identifies a sequencer event.
type EventKind int

const (
	StepApplied EventKind = iota
	Holding
	Completed
	Failed
	Released
)

func (k EventKind) String() string {
	switch k {
	case StepApplied:
		return "step-applied"
	case Holding:
		return "holding"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Released:
		return "released"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports sequencer progress to an Observer.
type Event struct {
	Kind      EventKind
	Sequence  string
	Step      int
	Hold      time.Duration
	Angles    map[string]float64 // commanded angles after the step
	Err       error
	Timestamp time.Time
}

// Options configures a Sequencer.
type Options struct {
	Sink  servo.Sink
	Clock clock.Clock
	Log   logrus.FieldLogger
	// Observer is called synchronously from the goroutine that produced the
	// event. It must not call back into the sequencer.
	Observer func(Event)
}

// Sequencer owns a set of named actuators and runs sequences on them.
type Sequencer struct {
	sink     servo.Sink
	clock    clock.Clock
	log      logrus.FieldLogger
	observer func(Event)

	mu         sync.Mutex
	state      State
	order      []string
	actuators  map[string]*servo.Actuator
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	releaseErr error
}

// New creates an idle sequencer.
func New(opts Options) *Sequencer {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Sequencer{
		sink:      opts.Sink,
		clock:     opts.Clock,
		log:       opts.Log,
		observer:  opts.Observer,
		actuators: make(map[string]*servo.Actuator),
		stopCh:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Actuators returns the registered actuator names in registration order.
func (s *Sequencer) Actuators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Angles returns the last commanded angle of every actuator that has one.
func (s *Sequencer) Angles() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anglesLocked()
}

func (s *Sequencer) anglesLocked() map[string]float64 {
	angles := make(map[string]float64, len(s.actuators))
	for name, a := range s.actuators {
		if a.Commanded() {
			angles[name] = a.Angle()
		}
	}
	return angles
}

// Register adds an actuator on channel using mapping. Registration is only
// allowed while idle.
func (s *Sequencer) Register(name string, mapping servo.DriveMapping, channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return ErrBusy
	case Stopped:
		return ErrStopped
	}
	if _, ok := s.actuators[name]; ok {
		return fmt.Errorf("register %s: %w", name, servo.ErrDuplicateName)
	}
	for _, a := range s.actuators {
		if a.Channel() == channel {
			return fmt.Errorf("register %s: %w: %d used by %s", name, servo.ErrDuplicateChannel, channel, a.Name())
		}
	}
	a, err := servo.NewActuator(name, mapping, channel)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if s.sink != nil {
		a.Attach(s.sink)
	}
	s.actuators[name] = a
	s.order = append(s.order, name)

	s.log.WithFields(logrus.Fields{
		"actuator": name,
		"channel":  channel,
		"min_duty": mapping.MinDuty,
		"max_duty": mapping.MaxDuty,
	}).Debug("actuator registered")
	return nil
}

// Check validates seq against the registered actuators without writing.
func (s *Sequencer) Check(seq Sequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, step := range seq.Steps {
		for _, t := range step.Targets {
			if _, ok := s.actuators[t.Name]; !ok {
				return &StepError{Step: i, Actuator: t.Name, Err: fmt.Errorf("%w: %s", servo.ErrUnknownActuator, t.Name)}
			}
		}
	}
	return nil
}

// Run executes seq. Each step writes all of its targets before the hold
// starts. Stop and ctx cancellation are observed at step boundaries and
// during holds. On every exit path all registered channels are released;
// an interrupted run leaves the sequencer Stopped, any other run returns it
// to Idle. Already applied angles are not rolled back on failure.
func (s *Sequencer) Run(ctx context.Context, seq Sequence) error {
	s.mu.Lock()
	switch s.state {
	case Running:
		s.mu.Unlock()
		return ErrBusy
	case Stopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = Running
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	log := s.log.WithField("sequence", seq.Name)
	log.WithField("steps", len(seq.Steps)).Info("sequence started")

	runErr := s.run(ctx, seq, log)
	relErr := s.releaseAll()

	s.mu.Lock()
	if errors.Is(runErr, ErrInterrupted) || s.stopRequested() {
		s.state = Stopped
	} else {
		s.state = Idle
	}
	s.releaseErr = relErr
	s.done = nil
	s.mu.Unlock()
	close(done)

	s.emit(Event{Kind: Released, Sequence: seq.Name, Err: relErr})

	if runErr != nil {
		step := -1
		var se *StepError
		if errors.As(runErr, &se) {
			step = se.Step
		}
		log.WithFields(logrus.Fields{
			"kind": ErrorKind(runErr),
			"step": step,
		}).WithError(runErr).Warn("sequence aborted")
		s.emit(Event{Kind: Failed, Sequence: seq.Name, Step: step, Err: runErr})
		return errors.Join(runErr, relErr)
	}
	if relErr != nil {
		return relErr
	}
	log.Info("sequence completed")
	s.emit(Event{Kind: Completed, Sequence: seq.Name, Step: len(seq.Steps) - 1})
	return nil
}

func (s *Sequencer) run(ctx context.Context, seq Sequence, log logrus.FieldLogger) error {
	for i, step := range seq.Steps {
		if err := s.interrupted(ctx); err != nil {
			return &StepError{Step: i, Err: err}
		}

		// Actuator state is guarded by s.mu; Angles may poll it concurrently.
		s.mu.Lock()
		for _, t := range step.Targets {
			a, ok := s.actuators[t.Name]
			if !ok {
				s.mu.Unlock()
				return &StepError{Step: i, Actuator: t.Name, Err: fmt.Errorf("%w: %s", servo.ErrUnknownActuator, t.Name)}
			}
			if err := a.SetAngle(t.Angle); err != nil {
				s.mu.Unlock()
				return &StepError{Step: i, Actuator: t.Name, Err: err}
			}
		}
		angles := s.anglesLocked()
		s.mu.Unlock()
		log.WithFields(logrus.Fields{"step": i, "angles": angles}).Debug("step applied")
		s.emit(Event{Kind: StepApplied, Sequence: seq.Name, Step: i, Hold: step.Hold, Angles: angles})

		if step.Hold <= 0 {
			continue
		}
		timer := s.clock.Timer(step.Hold)
		s.emit(Event{Kind: Holding, Sequence: seq.Name, Step: i, Hold: step.Hold, Angles: angles})
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &StepError{Step: i, Err: fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())}
		case <-s.stopCh:
			timer.Stop()
			return &StepError{Step: i, Err: ErrInterrupted}
		}
	}
	return nil
}

func (s *Sequencer) interrupted(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return ErrInterrupted
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

func (s *Sequencer) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop releases every registered channel and makes the sequencer terminal.
// A running sequence is interrupted at its next boundary and Stop waits for
// it to release. Calling Stop again is a no-op.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return nil
	case Running:
		done := s.done
		s.stopOnce.Do(func() { close(s.stopCh) })
		s.mu.Unlock()
		<-done
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.releaseErr
	}
	s.state = Stopped
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Unlock()

	err := s.releaseAll()
	s.emit(Event{Kind: Released, Err: err})
	return err
}

// releaseAll releases every actuator, attempting all of them even if some
// fail. Without a sink nothing was ever energized.
func (s *Sequencer) releaseAll() error {
	if s.sink == nil {
		return nil
	}
	s.mu.Lock()
	var errs []error
	for _, name := range s.order {
		if err := s.actuators[name].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	n := len(s.order)
	s.mu.Unlock()

	if len(errs) > 0 {
		s.log.WithField("failures", len(errs)).Error("release failed")
		return errors.Join(errs...)
	}
	s.log.WithField("channels", n).Debug("channels released")
	return nil
}

func (s *Sequencer) emit(e Event) {
	if s.observer == nil {
		return
	}
	e.Timestamp = s.clock.Now()
	s.observer(e)
}

// ErrorKind returns the taxonomy label of a Run or Register error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInterrupted):
		return "Interrupted"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrStopped):
		return "Stopped"
	}
	return servo.Kind(err)
}
