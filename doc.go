// Package servosweep drives hobby servos through timed sweep sequences and
// ships a small face detection camera stream alongside.
//
// Servos are addressed by name and mapped from an angle in [0, 180] degrees
// to a PWM duty cycle. Sequences are lists of steps; each step moves one or
// more servos at once and then holds. Stopping a sequence, or any failure,
// releases every channel so no servo is left energized.
//
// # Installation
//
//	go install github.com/gwillem/servosweep/cmd/servosweep@latest
//
// Camera support needs OpenCV and the gocv build tag:
//
//	go install -tags gocv github.com/gwillem/servosweep/cmd/servosweep@latest
//
// # Usage
//
// Write a rig configuration, then run the demo sweep:
//
//	servosweep setup
//	servosweep run --demo
//
// Or run a sequence file:
//
//	servosweep run --sequence sequences/wave.yaml
//
// Serve the camera with face boxes on http://localhost:5000/:
//
//	servosweep stream
//
// # Packages
//
//   - cmd/servosweep: CLI with setup, scan, run, stream and detect commands
//   - pkg/servo: Angle to duty mapping, actuators, and rig configuration
//   - pkg/sweep: Sequence files and the sequencer
//   - pkg/sink: PWM sinks (sysfs, Feetech bus, dry-run recorder)
//   - pkg/vision: Frame sources, face detection, and annotation
//   - pkg/stream: MJPEG streaming server
package servosweep
