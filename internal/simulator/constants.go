package simulator

import "time"

// Defaults for the CLI flags. A zero Interval sends rounds back to back.
const (
	DefaultBaseURL     = "http://localhost:9080"
	DefaultNumPatients = 5
	DefaultReadings    = 20
	DefaultInterval    = time.Second
	DefaultTimeout     = 5 * time.Second
	DefaultRetries     = 2
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
	crisisBurstSize         = 3
)

// Retry backoff bounds for the HTTP client.
const (
	retryWaitTime    = 100 * time.Millisecond
	retryMaxWaitTime = time.Second
)

// PercentageMultiplier converts ratios to percentages in the final report.
const PercentageMultiplier = 100
