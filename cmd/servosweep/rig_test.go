package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/servo"
	"github.com/gwillem/servosweep/pkg/sink"
	"github.com/gwillem/servosweep/pkg/sweep"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoadRig_Missing(t *testing.T) {
	if _, err := loadRig(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoadRig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.json")
	cfg := servo.DefaultConfig()
	cfg.Actuators[1].Channel = cfg.Actuators[0].Channel
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}
	if _, err := loadRig(path); err == nil {
		t.Fatal("duplicate channel accepted")
	}
}

func TestOpenSink_DryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.json")
	if err := servo.DefaultConfig().SaveTo(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadRig(path)
	if err != nil {
		t.Fatal(err)
	}
	dev, err := openSink(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	rec, ok := dev.(*sink.Recorder)
	if !ok {
		t.Fatalf("dry-run backend is %T", dev)
	}

	// The demo sequence runs end to end against the dry-run sink.
	sq := sweep.New(sweep.Options{Sink: dev, Log: quietLogger()})
	for _, a := range cfg.Actuators {
		if err := sq.Register(a.Name, a.Mapping(), a.Channel); err != nil {
			t.Fatal(err)
		}
	}
	seq := sweep.Demo("servo1", "servo2")
	for i := range seq.Steps {
		seq.Steps[i].Hold = 0
	}
	if err := sq.Run(t.Context(), seq); err != nil {
		t.Fatal(err)
	}
	if got := len(rec.Writes()); got != 8 {
		t.Errorf("writes = %d, want 8", got)
	}
	if got := len(rec.Releases()); got != 2 {
		t.Errorf("releases = %d, want 2", got)
	}
}

func TestOpenSink_UnknownBackend(t *testing.T) {
	cfg := servo.DefaultConfig()
	cfg.Backend = "gpio"
	if _, err := openSink(cfg, quietLogger()); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestExampleSequence(t *testing.T) {
	seq, err := sweep.LoadSequence(filepath.Join("..", "..", "sequences", "wave.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := seq.Validate(); err != nil {
		t.Fatal(err)
	}
	sq := sweep.New(sweep.Options{Sink: sink.NewRecorder(nil), Log: quietLogger()})
	for _, a := range servo.DefaultConfig().Actuators {
		if err := sq.Register(a.Name, a.Mapping(), a.Channel); err != nil {
			t.Fatal(err)
		}
	}
	if err := sq.Check(seq); err != nil {
		t.Fatal(err)
	}
}
