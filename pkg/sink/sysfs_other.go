//go:build !linux

package sink

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SysfsPWM is only available on Linux.
type SysfsPWM struct{}

func OpenSysfsPWM(frequencyHz int, log logrus.FieldLogger) (*SysfsPWM, error) {
	return nil, fmt.Errorf("sysfs pwm: %w", ErrUnsupported)
}

func PWMChips() (map[string]int, error) {
	return nil, fmt.Errorf("sysfs pwm: %w", ErrUnsupported)
}

func (d *SysfsPWM) WriteDuty(channel int, dutyPercent float64) error {
	return fmt.Errorf("sysfs pwm: %w", ErrUnsupported)
}

func (d *SysfsPWM) ReleaseChannel(channel int) error {
	return fmt.Errorf("sysfs pwm: %w", ErrUnsupported)
}

func (d *SysfsPWM) Close() error { return nil }
