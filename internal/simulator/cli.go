package simulator

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/vitalrisk/pkg/logger"
)

// SetupLogging initializes the logger for console output. Verbose runs log at
// debug level.
func SetupLogging(w io.Writer, verbose bool) error {
	if w == nil {
		w = os.Stdout
	}
	if err := logger.InitWithWriter(w, "console"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	level := "info"
	if verbose {
		level = "debug"
	}
	return logger.SetLevelString(level)
}

// ShowHelp prints usage information for the simulator.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `VitalRisk Wearable Simulator
============================

Registers simulated patients and streams wearable readings to a running
VitalRisk service.

Usage:
  go run ./cmd/simulator [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -patients int
        Number of simulated patients (default 5)
  -readings int
        Readings per patient (default 20)
  -interval duration
        Pause between reading rounds (default 1s)
  -workers int
        Number of concurrent submitters (default CPU cores)
  -timeout duration
        HTTP request timeout (default 5s)
  -retries int
        Transport retries per request (default 2)
  -seed uint
        Generator seed, 0 for a random one (default 0)
  -crisis
        Send a crisis burst for the first patient
  -verbose
        Log every submitted reading
  -help
        Show this help message

Examples:
  # Five patients, twenty rounds, one second apart
  go run ./cmd/simulator

  # Fast load with a crisis at the end
  go run ./cmd/simulator -patients 50 -readings 100 -interval 0 -workers 16 -crisis
`)
}
