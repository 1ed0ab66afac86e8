package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/servo"
	"github.com/gwillem/servosweep/pkg/sink"
)

func loadRig(path string) (*servo.Config, error) {
	cfg, err := servo.LoadConfigFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load %s (run 'servosweep setup' first): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// openSink opens the configured backend.
func openSink(cfg *servo.Config, log logrus.FieldLogger) (sink.Device, error) {
	switch cfg.Backend {
	case servo.BackendDryRun:
		return sink.NewRecorder(log.WithField("sink", "dry-run")), nil
	case servo.BackendSysfs:
		d, err := sink.OpenSysfsPWM(cfg.FrequencyHz, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	case servo.BackendFeetech:
		ids := make([]int, 0, len(cfg.Actuators))
		for _, a := range cfg.Actuators {
			ids = append(ids, a.Channel)
		}
		d, err := sink.OpenFeetech(sink.FeetechConfig{
			Port:        cfg.Port,
			BaudRate:    cfg.BaudRate,
			FrequencyHz: cfg.FrequencyHz,
		}, ids, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
