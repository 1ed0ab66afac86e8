package sweep

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/servo"
	"github.com/gwillem/servosweep/pkg/sink"
)

type harness struct {
	seq    *Sequencer
	rec    *sink.Recorder
	clock  *clock.Mock
	events chan Event
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	h := &harness{
		rec:    sink.NewRecorder(nil),
		clock:  clock.NewMock(),
		events: make(chan Event, 64),
	}
	h.seq = New(Options{
		Sink:     h.rec,
		Clock:    h.clock,
		Log:      quietLogger(),
		Observer: func(e Event) { h.events <- e },
	})
	for i, n := range names {
		if err := h.seq.Register(n, servo.DefaultMapping(), i); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}
	return h
}

// waitFor drains events until one of kind k for step arrives.
func (h *harness) waitFor(t *testing.T, k EventKind, step int) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Kind == k && e.Step == step {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s at step %d", k, step)
		}
	}
}

func (h *harness) runAsync(seq Sequence) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.seq.Run(context.Background(), seq) }()
	return errCh
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func assertWrites(t *testing.T, got []sink.Call, want []sink.Call) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d writes %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i].Channel != want[i].Channel || math.Abs(got[i].Duty-want[i].Duty) > 1e-9 {
			t.Errorf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func crossSequence() Sequence {
	return Sequence{Name: "cross", Steps: []Step{
		{Targets: []Target{{"A", 0}, {"B", 180}}, Hold: time.Second},
		{Targets: []Target{{"A", 180}, {"B", 0}}, Hold: time.Second},
	}}
}

func TestRun_WritesInOrderWithHolds(t *testing.T) {
	h := newHarness(t, "A", "B")
	errCh := h.runAsync(crossSequence())

	h.waitFor(t, Holding, 0)
	assertWrites(t, h.rec.Writes(), []sink.Call{
		{Op: sink.OpWrite, Channel: 0, Duty: 4.0},
		{Op: sink.OpWrite, Channel: 1, Duty: 12.5},
	})
	if s := h.seq.State(); s != Running {
		t.Errorf("state during hold = %s, want running", s)
	}

	h.clock.Add(time.Second)
	h.waitFor(t, Holding, 1)
	h.clock.Add(time.Second)

	if err := wait(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertWrites(t, h.rec.Writes(), []sink.Call{
		{Op: sink.OpWrite, Channel: 0, Duty: 4.0},
		{Op: sink.OpWrite, Channel: 1, Duty: 12.5},
		{Op: sink.OpWrite, Channel: 0, Duty: 12.5},
		{Op: sink.OpWrite, Channel: 1, Duty: 4.0},
	})
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases after completion = %d, want 2", n)
	}
	if s := h.seq.State(); s != Idle {
		t.Errorf("state after completion = %s, want idle", s)
	}
}

func TestRun_HoldBlocksUntilElapsed(t *testing.T) {
	h := newHarness(t, "A", "B")
	errCh := h.runAsync(crossSequence())

	h.waitFor(t, Holding, 0)
	h.clock.Add(999 * time.Millisecond)
	select {
	case e := <-h.events:
		t.Fatalf("unexpected event %s before hold elapsed", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(h.rec.Writes()); n != 2 {
		t.Fatalf("writes before hold elapsed = %d, want 2", n)
	}

	h.clock.Add(time.Millisecond)
	h.waitFor(t, Holding, 1)
	h.clock.Add(time.Second)
	if err := wait(t, errCh); err != nil {
		t.Fatal(err)
	}
}

func TestStop_DuringHold(t *testing.T) {
	h := newHarness(t, "A", "B")
	errCh := h.runAsync(crossSequence())

	h.waitFor(t, Holding, 0)
	if err := h.seq.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := wait(t, errCh)
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("Run error = %v, want ErrInterrupted", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != 0 {
		t.Errorf("Run error = %v, want StepError at step 0", err)
	}

	h.clock.Add(10 * time.Second)
	if n := len(h.rec.Writes()); n != 2 {
		t.Errorf("writes = %d, want 2 (no writes after stop)", n)
	}
	releases := h.rec.Releases()
	if len(releases) != 2 || releases[0].Channel != 0 || releases[1].Channel != 1 {
		t.Errorf("releases = %v, want one per actuator", releases)
	}
	if s := h.seq.State(); s != Stopped {
		t.Errorf("state = %s, want stopped", s)
	}

	// Idempotent: no further releases, later runs refused.
	if err := h.seq.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases after second Stop = %d, want 2", n)
	}
	if err := h.seq.Run(context.Background(), crossSequence()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after Stop = %v, want ErrStopped", err)
	}
	if err := h.seq.Register("C", servo.DefaultMapping(), 5); !errors.Is(err, ErrStopped) {
		t.Errorf("Register after Stop = %v, want ErrStopped", err)
	}
}

func TestStop_WhileIdle(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	if err := h.seq.Stop(); err != nil {
		t.Fatal(err)
	}
	if n := len(h.rec.Releases()); n != 3 {
		t.Errorf("releases = %d, want 3", n)
	}
	if n := len(h.rec.Writes()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	_ = h.seq.Stop()
	if n := len(h.rec.Releases()); n != 3 {
		t.Errorf("releases after second Stop = %d, want 3", n)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.seq.Run(ctx, crossSequence()) }()

	h.waitFor(t, Holding, 0)
	cancel()

	err := wait(t, errCh)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want ErrInterrupted wrapping context.Canceled", err)
	}
	if n := len(h.rec.Writes()); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}
	if s := h.seq.State(); s != Stopped {
		t.Errorf("state = %s, want stopped", s)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, "A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.seq.Run(ctx, Demo("A"))
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("Run error = %v, want ErrInterrupted", err)
	}
	if n := len(h.rec.Writes()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if n := len(h.rec.Releases()); n != 1 {
		t.Errorf("releases = %d, want 1", n)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t, "s1")

	err := h.seq.Register("s1", servo.DefaultMapping(), 9)
	if !errors.Is(err, servo.ErrDuplicateName) {
		t.Errorf("Register error = %v, want ErrDuplicateName", err)
	}
	if names := h.seq.Actuators(); len(names) != 1 || names[0] != "s1" {
		t.Errorf("Actuators() = %v, want [s1]", names)
	}

	if err := h.seq.Register("s2", servo.DefaultMapping(), 0); !errors.Is(err, servo.ErrDuplicateChannel) {
		t.Errorf("Register error = %v, want ErrDuplicateChannel", err)
	}
	if err := h.seq.Register("s3", servo.DriveMapping{MinDuty: 9, MaxDuty: 1}, 3); !errors.Is(err, servo.ErrInvalidMapping) {
		t.Errorf("Register error = %v, want ErrInvalidMapping", err)
	}
	if n := len(h.seq.Actuators()); n != 1 {
		t.Errorf("actuator count = %d, want 1", n)
	}
}

func TestRun_UnknownActuator(t *testing.T) {
	h := newHarness(t, "A", "B")
	seq := Sequence{Name: "bad", Steps: []Step{
		{Targets: []Target{{"A", 90}, {"ghost", 10}, {"B", 90}}, Hold: time.Second},
	}}

	err := h.seq.Run(context.Background(), seq)
	if !errors.Is(err, servo.ErrUnknownActuator) {
		t.Fatalf("Run error = %v, want ErrUnknownActuator", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != 0 || se.Actuator != "ghost" {
		t.Errorf("StepError = %+v", se)
	}
	// A keeps its new angle; B was never written.
	assertWrites(t, h.rec.Writes(), []sink.Call{{Op: sink.OpWrite, Channel: 0, Duty: 8.25}})
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}
	if s := h.seq.State(); s != Idle {
		t.Errorf("state = %s, want idle", s)
	}
	if got := ErrorKind(err); got != "UnknownActuator" {
		t.Errorf("ErrorKind = %q", got)
	}
}

func TestRun_InvalidAngle(t *testing.T) {
	h := newHarness(t, "A", "B")
	seq := Sequence{Steps: []Step{
		{Targets: []Target{{"A", 10}}},
		{Targets: []Target{{"A", 20}, {"B", 181}}},
	}}

	err := h.seq.Run(context.Background(), seq)
	if !errors.Is(err, servo.ErrInvalidAngle) {
		t.Fatalf("Run error = %v, want ErrInvalidAngle", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != 1 {
		t.Errorf("StepError = %+v, want step 1", se)
	}
	if n := len(h.rec.Writes()); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}
}

func TestRun_SinkFailure(t *testing.T) {
	h := newHarness(t, "A", "B")
	boom := errors.New("bus timeout")
	h.rec.FailOn(sink.OpWrite, 1, boom)
	h.rec.FailOn(sink.OpRelease, 1, boom)

	err := h.seq.Run(context.Background(), Sequence{Steps: []Step{
		{Targets: []Target{{"A", 0}, {"B", 0}}},
	}})
	if !errors.Is(err, servo.ErrSink) || !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want ErrSink wrapping cause", err)
	}
	// Release is still attempted on every channel.
	releases := h.rec.Releases()
	if len(releases) != 1 || releases[0].Channel != 0 {
		t.Errorf("releases = %v, want channel 0 only", releases)
	}
	if got := ErrorKind(err); got != "SinkError" {
		t.Errorf("ErrorKind = %q", got)
	}
}

func TestRun_NotInitialized(t *testing.T) {
	s := New(Options{Clock: clock.NewMock(), Log: quietLogger()})
	if err := s.Register("A", servo.DefaultMapping(), 0); err != nil {
		t.Fatal(err)
	}
	err := s.Run(context.Background(), Demo("A"))
	if !errors.Is(err, servo.ErrNotInitialized) {
		t.Errorf("Run error = %v, want ErrNotInitialized", err)
	}
}

func TestRun_Busy(t *testing.T) {
	h := newHarness(t, "A", "B")
	errCh := h.runAsync(crossSequence())
	h.waitFor(t, Holding, 0)

	if err := h.seq.Run(context.Background(), crossSequence()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Run = %v, want ErrBusy", err)
	}
	if err := h.seq.Register("C", servo.DefaultMapping(), 7); !errors.Is(err, ErrBusy) {
		t.Errorf("Register while running = %v, want ErrBusy", err)
	}

	_ = h.seq.Stop()
	_ = wait(t, errCh)
}

func TestRun_ReusableAfterCompletion(t *testing.T) {
	h := newHarness(t, "A")
	seq := Sequence{Steps: []Step{{Targets: []Target{{"A", 90}}}}}

	for i := 0; i < 2; i++ {
		if err := h.seq.Run(context.Background(), seq); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := len(h.rec.Writes()); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	if n := len(h.rec.Releases()); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}
}

func TestRun_Events(t *testing.T) {
	h := newHarness(t, "A", "B")
	seq := Sequence{Name: "ev", Steps: []Step{
		{Targets: []Target{{"A", 45}, {"B", 135}}},
	}}
	if err := h.seq.Run(context.Background(), seq); err != nil {
		t.Fatal(err)
	}

	var kinds []EventKind
	var applied Event
	for len(h.events) > 0 {
		e := <-h.events
		kinds = append(kinds, e.Kind)
		if e.Kind == StepApplied {
			applied = e
		}
	}
	want := []EventKind{StepApplied, Released, Completed}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
	if applied.Angles["A"] != 45 || applied.Angles["B"] != 135 || applied.Sequence != "ev" {
		t.Errorf("StepApplied event = %+v", applied)
	}
}

func TestCheck(t *testing.T) {
	h := newHarness(t, "A")
	if err := h.seq.Check(Demo("A")); err != nil {
		t.Errorf("Check(demo): %v", err)
	}
	if err := h.seq.Check(Demo("A", "B")); !errors.Is(err, servo.ErrUnknownActuator) {
		t.Errorf("Check error = %v, want ErrUnknownActuator", err)
	}
	if n := len(h.rec.Calls()); n != 0 {
		t.Errorf("Check issued %d sink calls", n)
	}
}

func TestState_String(t *testing.T) {
	if Idle.String() != "idle" || Running.String() != "running" || Stopped.String() != "stopped" {
		t.Error("unexpected state names")
	}
}

func TestAngles_ConcurrentWithRun(t *testing.T) {
	h := newHarness(t, "pan", "tilt")
	seq := Sequence{Name: "busy"}
	for i := 0; i < 500; i++ {
		a := float64(i % 181)
		seq.Steps = append(seq.Steps, Step{Targets: []Target{{"pan", a}, {"tilt", servo.MaxAngle - a}}})
	}
	// The observer must not block the run.
	h.seq.observer = nil

	done := make(chan struct{})
	polled := make(chan int)
	go func() {
		n := 0
		for {
			for name, a := range h.seq.Angles() {
				if a < 0 || a > servo.MaxAngle {
					t.Errorf("%s angle %v out of range", name, a)
				}
			}
			n++
			select {
			case <-done:
				polled <- n
				return
			default:
			}
		}
	}()

	err := h.seq.Run(context.Background(), seq)
	close(done)
	<-polled
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(h.rec.Writes()); got != 1000 {
		t.Errorf("writes = %d, want 1000", got)
	}
	if got := h.seq.Angles(); len(got) != 0 {
		t.Errorf("angles after release = %v, want none", got)
	}
}
