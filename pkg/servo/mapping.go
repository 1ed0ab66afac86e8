package servo

import (
	"fmt"
	"math"
)

// MaxAngle is the upper bound of the commandable range. The lower bound is 0.
const MaxAngle = 180.0

// Default duty bounds for a standard 50 Hz hobby servo.
const (
	DefaultMinDuty = 4.0
	DefaultMaxDuty = 12.5
)

// DriveMapping is a linear transform from angle in degrees to duty percent.
type DriveMapping struct {
	MinDuty float64 `json:"min_duty"`
	MaxDuty float64 `json:"max_duty"`
}

// DefaultMapping returns the 4.0..12.5 % mapping.
func DefaultMapping() DriveMapping {
	return DriveMapping{MinDuty: DefaultMinDuty, MaxDuty: DefaultMaxDuty}
}

// Validate checks that the bounds are ordered and inside [0, 100].
func (m DriveMapping) Validate() error {
	if math.IsNaN(m.MinDuty) || math.IsNaN(m.MaxDuty) {
		return fmt.Errorf("%w: NaN bound", ErrInvalidMapping)
	}
	if m.MinDuty < 0 || m.MaxDuty > 100 {
		return fmt.Errorf("%w: bounds %.3f..%.3f outside [0, 100]", ErrInvalidMapping, m.MinDuty, m.MaxDuty)
	}
	if m.MinDuty >= m.MaxDuty {
		return fmt.Errorf("%w: min_duty %.3f >= max_duty %.3f", ErrInvalidMapping, m.MinDuty, m.MaxDuty)
	}
	return nil
}

// Duty converts an angle to a duty percentage.
func (m DriveMapping) Duty(angle float64) (float64, error) {
	if err := CheckAngle(angle); err != nil {
		return 0, err
	}
	return m.MinDuty + angle*(m.MaxDuty-m.MinDuty)/MaxAngle, nil
}

// Angle is the inverse of Duty. Duties outside the mapping fail with
// ErrInvalidAngle since they correspond to no valid angle.
func (m DriveMapping) Angle(duty float64) (float64, error) {
	span := m.MaxDuty - m.MinDuty
	if span <= 0 {
		return 0, fmt.Errorf("%w: empty span", ErrInvalidMapping)
	}
	angle := (duty - m.MinDuty) / span * MaxAngle
	if err := CheckAngle(angle); err != nil {
		return 0, fmt.Errorf("duty %.3f: %w", duty, err)
	}
	return angle, nil
}

// CheckAngle reports ErrInvalidAngle for angles outside [0, MaxAngle].
func CheckAngle(angle float64) error {
	if math.IsNaN(angle) || angle < 0 || angle > MaxAngle {
		return fmt.Errorf("%w: %g", ErrInvalidAngle, angle)
	}
	return nil
}
