// Package servo converts logical angles into drive-signal duty cycles and
// writes them to a hardware signal sink.
package servo

import "fmt"

// Sink is the hardware signal sink an actuator writes to. Implementations
// live in pkg/sink.
type Sink interface {
	// WriteDuty sets the duty percentage (0..100) on a channel, energizing it
	// if needed.
	WriteDuty(channel int, dutyPercent float64) error
	// ReleaseChannel de-energizes a channel.
	ReleaseChannel(channel int) error
}

// Actuator is a single angular actuator bound to one sink channel.
type Actuator struct {
	name    string
	channel int
	mapping DriveMapping
	sink    Sink

	angle     float64
	commanded bool
}

// NewActuator creates an actuator. It must be attached to a sink before
// SetAngle is called.
func NewActuator(name string, mapping DriveMapping, channel int) (*Actuator, error) {
	if name == "" {
		return nil, fmt.Errorf("actuator name is empty")
	}
	if err := mapping.Validate(); err != nil {
		return nil, fmt.Errorf("actuator %s: %w", name, err)
	}
	return &Actuator{
		name:    name,
		channel: channel,
		mapping: mapping,
	}, nil
}

// Attach registers the actuator with a sink.
func (a *Actuator) Attach(s Sink) {
	a.sink = s
}

// Name returns the actuator name.
func (a *Actuator) Name() string { return a.name }

// Channel returns the sink channel.
func (a *Actuator) Channel() int { return a.channel }

// Mapping returns the drive mapping.
func (a *Actuator) Mapping() DriveMapping { return a.mapping }

// Angle returns the last successfully commanded angle.
func (a *Actuator) Angle() float64 { return a.angle }

// Commanded reports whether any angle has been written since creation or
// the last release.
func (a *Actuator) Commanded() bool { return a.commanded }

// SetAngle validates angle, converts it to a duty and writes it to the sink.
// Nothing is written when validation fails.
func (a *Actuator) SetAngle(angle float64) error {
	if a.sink == nil {
		return fmt.Errorf("actuator %s: %w", a.name, ErrNotInitialized)
	}
	duty, err := a.mapping.Duty(angle)
	if err != nil {
		return fmt.Errorf("actuator %s: %w", a.name, err)
	}
	if err := a.sink.WriteDuty(a.channel, duty); err != nil {
		return fmt.Errorf("actuator %s: %w: write channel %d: %w", a.name, ErrSink, a.channel, err)
	}
	a.angle = angle
	a.commanded = true
	return nil
}

// Release de-energizes the actuator's channel.
func (a *Actuator) Release() error {
	if a.sink == nil {
		return fmt.Errorf("actuator %s: %w", a.name, ErrNotInitialized)
	}
	if err := a.sink.ReleaseChannel(a.channel); err != nil {
		return fmt.Errorf("actuator %s: %w: release channel %d: %w", a.name, ErrSink, a.channel, err)
	}
	a.commanded = false
	return nil
}
