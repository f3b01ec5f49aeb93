package domain

import (
	"fmt"
	"time"
)

type Health struct {
	Status string
	Time   time.Time
}

type Credentials struct {
	Username string
	Password string
}

// DeviceEndpoint identifies one miner. Values are built by config and never
// mutated afterwards.
type DeviceEndpoint struct {
	Name           string
	Host           string
	TelemetryPort  int
	ManagementHost string
	ManagementPort int
	Credentials    Credentials
}

// DisplayName is the dashboard label, e.g. "131 (204)".
func (d DeviceEndpoint) DisplayName() string {
	return fmt.Sprintf("%s (%d)", d.Name, d.TelemetryPort)
}

// MetricSnapshot is the normalized result of one device poll. When Reachable is
// false every metric field is nil or empty.
type MetricSnapshot struct {
	Name               string
	DisplayName        string
	Reachable          bool
	HashRateTHs        *float64
	UptimeSeconds      *int64
	Uptime             string
	PowerWatts         *int
	AvgTemperatureC    *float64
	BoardTemperaturesC []float64
}

// Unreachable returns the snapshot reported for a device that did not answer.
func Unreachable(device DeviceEndpoint) MetricSnapshot {
	return MetricSnapshot{
		Name:               device.Name,
		DisplayName:        device.DisplayName(),
		BoardTemperaturesC: []float64{},
	}
}

type FleetSnapshot struct {
	Miners        []MetricSnapshot
	TotalHashrate float64
	Online        int
	Offline       int
	Time          time.Time
}

// RefresherStatus describes the background fleet refresher, not the fleet.
type RefresherStatus struct {
	Enabled     bool
	Interval    time.Duration
	Refreshes   int
	LastRefresh *time.Time
	LastError   string
}

type LogLine struct {
	Text    string
	Flagged bool
}

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusEmpty   LogStatus = "empty"
	LogStatusError   LogStatus = "error"
)

type LogFetchResult struct {
	Status  LogStatus
	Lines   []LogLine
	Message string
	Count   int
	// Reason is the failure kind for error results, e.g. "auth_failed".
	Reason string
}
