package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"go.bug.st/serial"

	"github.com/gwillem/servosweep/pkg/servo"
	"github.com/gwillem/servosweep/pkg/sink"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

type SetupCommand struct {
	Config  string `short:"c" long:"config" default:"servosweep.json" description:"Config file to write"`
	Backend string `long:"backend" choice:"dry-run" choice:"sysfs" choice:"feetech" description:"Sink backend (asked interactively if omitted)"`
	Port    string `long:"port" description:"Serial port for the feetech backend"`
	Force   bool   `long:"force" description:"Overwrite an existing config"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("servosweep setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	if _, err := os.Stat(c.Config); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Config)
	}

	cfg := servo.DefaultConfig()
	cfg.Backend = c.Backend
	cfg.Port = c.Port

	if cfg.Backend == "" {
		if !interactive() {
			cfg.Backend = servo.BackendDryRun
		} else if err := askBackend(cfg); err != nil {
			return err
		}
	}
	if cfg.Backend == servo.BackendFeetech {
		// Feetech servos are addressed by ID, starting at 1.
		for i := range cfg.Actuators {
			cfg.Actuators[i].Channel = i + 1
		}
		if cfg.Port == "" && interactive() {
			if err := askPort(cfg); err != nil {
				return err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(c.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", c.Config)
	fmt.Println()
	fmt.Println("Run the demo sweep with: " + headerStyle.Render("servosweep run --demo"))
	return nil
}

func askBackend(cfg *servo.Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How are the servos driven?").
				Options(
					huh.NewOption("Hardware PWM via /sys/class/pwm (Raspberry Pi)", servo.BackendSysfs),
					huh.NewOption("Feetech serial bus servos", servo.BackendFeetech),
					huh.NewOption("Dry run (log only)", servo.BackendDryRun),
				).
				Value(&cfg.Backend),
		),
	)
	return form.Run()
}

func askPort(cfg *servo.Config) error {
	ports, err := serial.GetPortsList()
	if err != nil || len(ports) == 0 {
		return huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Serial port").Placeholder("/dev/ttyUSB0").Value(&cfg.Port),
		)).Run()
	}
	options := make([]huh.Option[string], 0, len(ports))
	for _, p := range ports {
		options = append(options, huh.NewOption(p, p))
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().Title("Serial port").Options(options...).Value(&cfg.Port),
	)).Run()
}

type ScanCommand struct {
	MaxID int `long:"max-id" default:"20" description:"Highest Feetech servo ID to probe"`
}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Scanning..."))
	fmt.Println()

	rows := [][]string{}

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
	}
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := sink.ScanFeetech(ctx, port, 0, 1, c.MaxID)
		cancel()
		if err != nil || len(servos) == 0 {
			rows = append(rows, []string{"serial", port, "-"})
			continue
		}
		ids := make([]string, 0, len(servos))
		for _, s := range servos {
			ids = append(ids, strconv.Itoa(s.ID))
		}
		rows = append(rows, []string{"feetech", port, strings.Join(ids, ",")})
	}

	chips, err := sink.PWMChips()
	if err == nil {
		names := make([]string, 0, len(chips))
		for name := range chips {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			rows = append(rows, []string{"sysfs pwm", name, fmt.Sprintf("%d channels", chips[name])})
		}
	}

	if len(rows) == 0 {
		fmt.Println("Nothing found.")
		fmt.Println("Make sure the servos are connected and powered on.")
		return nil
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Kind", "Device", "Servos").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	return nil
}
