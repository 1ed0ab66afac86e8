package main

import (
	"io"
	"os"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`
	LogFile string `long:"log-file" description:"Also write logs to this file (rotated)"`

	Setup  SetupCommand  `command:"setup" description:"Write a rig configuration file"`
	Scan   ScanCommand   `command:"scan" description:"List serial ports, Feetech servos and PWM chips"`
	Run    RunCommand    `command:"run" description:"Run a sweep sequence on the configured servos"`
	Stream StreamCommand `command:"stream" description:"Serve the camera with face detection as an MJPEG stream"`
	Detect DetectCommand `command:"detect" description:"Run face detection on the local camera"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

// logFile is the rotated --log-file writer, shared by every logger.
var logFile *lumberjack.Logger

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&formatter.Formatter{
		TimestampFormat: "15:04:05",
		FieldsOrder:     []string{"run_id", "sequence", "step"},
	})
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if opts.LogFile != "" && logFile == nil {
		logFile = &lumberjack.Logger{
			Filename:   opts.LogFile,
			LocalTime:  true,
			MaxSize:    10,
			MaxAge:     7,
			MaxBackups: 3,
		}
	}
	setLogOutput(log, os.Stderr)
	return log
}

// setLogOutput sends log lines to console and, with --log-file, to the
// rotated file.
func setLogOutput(log *logrus.Logger, console io.Writer) {
	if logFile == nil {
		log.SetOutput(console)
		return
	}
	log.SetOutput(io.MultiWriter(console, logFile))
}

func closeLogFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func main() {
	parser.LongDescription = "servosweep - servo sweep sequencer and face detection tools"

	_, err := parser.Parse()
	closeLogFile()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
