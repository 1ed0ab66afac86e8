//go:build linux

package sink

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SysfsPWM drives hardware PWM channels through /sys/class/pwm.
//
// On a Raspberry Pi the channels only exist with `dtoverlay=pwm-2chan`
// (channel 0 on GPIO18, channel 1 on GPIO13). Channels are exported on
// first write and left exported on Close.
type SysfsPWM struct {
	mu       sync.Mutex
	chipPath string
	npwm     int
	periodNS uint64
	channels map[int]*sysfsChannel
	log      logrus.FieldLogger
}

type sysfsChannel struct {
	path       string
	configured bool
	enabled    bool
}

var (
	pwmSysfsBase = "/sys/class/pwm"
	writeSysfsFn = writeSysfs
)

// OpenSysfsPWM finds the first usable pwmchip and prepares it for servo
// output at frequencyHz.
func OpenSysfsPWM(frequencyHz int, log logrus.FieldLogger) (*SysfsPWM, error) {
	if frequencyHz <= 0 {
		return nil, fmt.Errorf("sysfs pwm: invalid frequency %d Hz", frequencyHz)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	chipPath, npwm, err := findPWMChip(pwmSysfsBase)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"chip": chipPath, "npwm": npwm, "hz": frequencyHz}).Debug("sysfs pwm opened")
	return &SysfsPWM{
		chipPath: chipPath,
		npwm:     npwm,
		periodNS: uint64(1_000_000_000 / frequencyHz),
		channels: make(map[int]*sysfsChannel),
		log:      log,
	}, nil
}

// PWMChips lists the pwmchip entries under /sys/class/pwm with their channel
// counts.
func PWMChips() (map[string]int, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return nil, err
	}
	chips := make(map[string]int)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "pwmchip") {
			continue
		}
		n, err := readInt(filepath.Join(pwmSysfsBase, e.Name(), "npwm"))
		if err != nil {
			continue
		}
		chips[e.Name()] = n
	}
	return chips, nil
}

func findPWMChip(base string) (chipPath string, npwm int, err error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", 0, fmt.Errorf("sysfs pwm: read %s: %w", base, err)
	}

	// pwmchipN entries are usually symlinks, so match on name only.
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		chip := filepath.Join(base, name)
		n, rerr := readInt(filepath.Join(chip, "npwm"))
		if rerr != nil || n <= 0 {
			continue
		}
		return chip, n, nil
	}
	return "", 0, fmt.Errorf("sysfs pwm: no pwmchip found under %s (is the pwm overlay enabled?)", base)
}

func (d *SysfsPWM) WriteDuty(channel int, dutyPercent float64) error {
	if dutyPercent < 0 || dutyPercent > 100 {
		return fmt.Errorf("sysfs pwm: duty %.3f%% outside [0, 100]", dutyPercent)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.channel(channel)
	if err != nil {
		return err
	}
	if !ch.configured {
		// Period can only change while disabled.
		_ = writeSysfsFn(filepath.Join(ch.path, "enable"), "0")
		ch.enabled = false
		if err := writeSysfsFn(filepath.Join(ch.path, "period"), strconv.FormatUint(d.periodNS, 10)); err != nil {
			return fmt.Errorf("sysfs pwm: set period: %w", err)
		}
		ch.configured = true
	}

	duty := uint64(math.Round(float64(d.periodNS) * dutyPercent / 100))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := writeSysfsFn(filepath.Join(ch.path, "duty_cycle"), strconv.FormatUint(duty, 10)); err != nil {
		return fmt.Errorf("sysfs pwm: set duty: %w", err)
	}
	if !ch.enabled {
		if err := writeSysfsFn(filepath.Join(ch.path, "enable"), "1"); err != nil {
			return fmt.Errorf("sysfs pwm: enable: %w", err)
		}
		ch.enabled = true
	}
	return nil
}

func (d *SysfsPWM) ReleaseChannel(channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.release(channel)
}

func (d *SysfsPWM) release(channel int) error {
	ch, ok := d.channels[channel]
	if !ok || !ch.enabled {
		return nil
	}
	err := writeSysfsFn(filepath.Join(ch.path, "duty_cycle"), "0")
	if eerr := writeSysfsFn(filepath.Join(ch.path, "enable"), "0"); eerr != nil {
		err = errors.Join(err, eerr)
	} else {
		ch.enabled = false
	}
	if err != nil {
		return fmt.Errorf("sysfs pwm: release channel %d: %w", channel, err)
	}
	return nil
}

// Close disables every enabled channel.
func (d *SysfsPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for n := range d.channels {
		if err := d.release(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *SysfsPWM) channel(n int) (*sysfsChannel, error) {
	if ch, ok := d.channels[n]; ok {
		return ch, nil
	}
	if n < 0 || n >= d.npwm {
		return nil, fmt.Errorf("sysfs pwm: channel %d not in [0, %d)", n, d.npwm)
	}
	ch := &sysfsChannel{path: filepath.Join(d.chipPath, fmt.Sprintf("pwm%d", n))}
	if err := ensureExported(d.chipPath, n, ch.path); err != nil {
		return nil, err
	}
	d.channels[n] = ch
	return ch, nil
}

func ensureExported(chipPath string, n int, pwmPath string) error {
	if _, err := os.Stat(pwmPath); err == nil {
		return nil
	}
	if err := writeSysfsFn(filepath.Join(chipPath, "export"), strconv.Itoa(n)); err != nil {
		// Someone else may have exported it in the meantime.
		if _, statErr := os.Stat(pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("sysfs pwm: export channel %d: %w", n, err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(pwmPath); err != nil {
		return fmt.Errorf("sysfs pwm: %s not created after export: %w", pwmPath, err)
	}
	return nil
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some sysfs attributes
// reject. Right after export udev may still be fixing permissions, so
// EACCES/ENOENT are retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := writeOnce(path, value)
		if err == nil {
			return nil
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return err
	}
}

func writeOnce(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value)
	return errors.Join(werr, f.Close())
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s: empty", path)
	}
	return strconv.Atoi(s)
}
