package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/okian/vitalrisk/internal/simulator"
)

func main() {
	var (
		baseURL  = flag.String("url", simulator.DefaultBaseURL, "Base URL of the service")
		patients = flag.Int("patients", simulator.DefaultNumPatients, "Number of simulated patients")
		readings = flag.Int("readings", simulator.DefaultReadings, "Readings per patient")
		interval = flag.Duration("interval", simulator.DefaultInterval, "Pause between reading rounds")
		workers  = flag.Int("workers", runtime.NumCPU(), "Number of concurrent submitters")
		timeout  = flag.Duration("timeout", simulator.DefaultTimeout, "HTTP request timeout")
		retries  = flag.Int("retries", simulator.DefaultRetries, "Transport retries per request")
		seed     = flag.Uint64("seed", 0, "Generator seed, 0 for a random one")
		crisis   = flag.Bool("crisis", false, "Send a crisis burst for the first patient")
		verbose  = flag.Bool("verbose", false, "Log every submitted reading")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulator.ShowHelp(os.Stdout)
		return
	}

	if err := simulator.SetupLogging(os.Stdout, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &simulator.Config{
		BaseURL:     *baseURL,
		NumPatients: *patients,
		Readings:    *readings,
		Interval:    *interval,
		Workers:     *workers,
		Timeout:     *timeout,
		Retries:     *retries,
		Crisis:      *crisis,
		Seed:        *seed,
		Verbose:     *verbose,
	}

	if _, err := simulator.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
