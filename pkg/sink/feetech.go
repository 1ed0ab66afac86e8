package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/sirupsen/logrus"
)

// FeetechConfig configures a Feetech bus sink. The bus servos are driven as
// if they were PWM servos: the duty percent is turned into a pulse width at
// FrequencyHz, and the pulse range MinPulse..MaxPulse is mapped linearly
// onto the raw position range RangeMin..RangeMax.
type FeetechConfig struct {
	Port        string
	BaudRate    int
	FrequencyHz int
	MinPulse    time.Duration
	MaxPulse    time.Duration
	RangeMin    int
	RangeMax    int
	Timeout     time.Duration
}

func (c *FeetechConfig) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 1_000_000
	}
	if c.FrequencyHz == 0 {
		c.FrequencyHz = 50
	}
	if c.MinPulse == 0 && c.MaxPulse == 0 {
		c.MinPulse = 500 * time.Microsecond
		c.MaxPulse = 2500 * time.Microsecond
	}
	if c.RangeMin == 0 && c.RangeMax == 0 {
		c.RangeMax = 4095
	}
	if c.Timeout == 0 {
		c.Timeout = 100 * time.Millisecond
	}
}

// Position converts a duty percentage into a raw servo position.
func (c FeetechConfig) Position(dutyPercent float64) (int, error) {
	c.setDefaults()
	period := float64(time.Second) / float64(c.FrequencyHz)
	pulse := period * dutyPercent / 100
	lo, hi := float64(c.MinPulse), float64(c.MaxPulse)
	if hi <= lo {
		return 0, fmt.Errorf("feetech: empty pulse range %s..%s", c.MinPulse, c.MaxPulse)
	}
	// Allow for float noise at the range ends.
	const eps = 1e-6
	if pulse < lo-eps || pulse > hi+eps {
		return 0, fmt.Errorf("feetech: pulse %s outside %s..%s", time.Duration(pulse), c.MinPulse, c.MaxPulse)
	}
	frac := math.Min(math.Max((pulse-lo)/(hi-lo), 0), 1)
	return c.RangeMin + int(math.Round(frac*float64(c.RangeMax-c.RangeMin))), nil
}

// Feetech is a sink whose channels are Feetech servo IDs.
type Feetech struct {
	mu      sync.Mutex
	cfg     FeetechConfig
	bus     *feetech.Bus
	group   *feetech.ServoGroup
	servos  map[int]*feetech.Servo
	enabled map[int]bool
	log     logrus.FieldLogger
}

// OpenFeetech opens the serial bus and prepares the given servo IDs.
func OpenFeetech(cfg FeetechConfig, ids []int, log logrus.FieldLogger) (*Feetech, error) {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	servos := make(map[int]*feetech.Servo, len(ids))
	for _, id := range ids {
		servos[id] = feetech.NewServo(bus, id, nil)
	}
	log.WithFields(logrus.Fields{"port": cfg.Port, "ids": ids}).Debug("feetech bus opened")

	return &Feetech{
		cfg:     cfg,
		bus:     bus,
		group:   feetech.NewServoGroupByIDs(bus, ids...),
		servos:  servos,
		enabled: make(map[int]bool, len(ids)),
		log:     log,
	}, nil
}

func (f *Feetech) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*f.cfg.Timeout)
}

func (f *Feetech) WriteDuty(channel int, dutyPercent float64) error {
	pos, err := f.cfg.Position(dutyPercent)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	servo, ok := f.servos[channel]
	if !ok {
		return fmt.Errorf("feetech: servo %d not opened", channel)
	}

	ctx, cancel := f.ctx()
	defer cancel()
	if !f.enabled[channel] {
		if err := servo.Enable(ctx); err != nil {
			return fmt.Errorf("feetech: enable servo %d: %w", channel, err)
		}
		f.enabled[channel] = true
	}
	if err := f.group.SetPositions(ctx, feetech.PositionMap{channel: pos}); err != nil {
		return fmt.Errorf("feetech: write servo %d: %w", channel, err)
	}
	return nil
}

// ReleaseChannel disables torque on the servo.
func (f *Feetech) ReleaseChannel(channel int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.release(channel)
}

func (f *Feetech) release(channel int) error {
	servo, ok := f.servos[channel]
	if !ok {
		return fmt.Errorf("feetech: servo %d not opened", channel)
	}
	ctx, cancel := f.ctx()
	defer cancel()
	if err := servo.Disable(ctx); err != nil {
		return fmt.Errorf("feetech: disable servo %d: %w", channel, err)
	}
	f.enabled[channel] = false
	return nil
}

// Close disables any servo still holding torque and closes the bus.
func (f *Feetech) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for id, on := range f.enabled {
		if !on {
			continue
		}
		if err := f.release(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ScanFeetech probes port for servos with IDs in [from, to].
func ScanFeetech(ctx context.Context, port string, baudRate, from, to int) ([]feetech.FoundServo, error) {
	if baudRate == 0 {
		baudRate = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	defer bus.Close()
	return bus.Scan(ctx, from, to)
}
