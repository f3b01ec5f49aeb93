package devicelog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/observability"
)

const defaultHours = 2

// RawLogSource returns the raw syslog markup of one device.
type RawLogSource interface {
	FetchRawLog(device domain.DeviceEndpoint, loginTimeout, logTimeout time.Duration) (string, error)
}

// Timeouts carries the login timeout, the default log timeout and per-device
// log timeout overrides for slow consoles.
type Timeouts struct {
	Login     time.Duration
	Log       time.Duration
	PerDevice map[string]time.Duration
}

func (t Timeouts) LogTimeoutFor(name string) time.Duration {
	if timeout, ok := t.PerDevice[name]; ok && timeout > 0 {
		return timeout
	}
	return t.Log
}

// Fetcher resolves a device by name, acquires its log and turns it into a
// LogFetchResult.
type Fetcher struct {
	source       RawLogSource
	devices      map[string]domain.DeviceEndpoint
	timeouts     Timeouts
	defaultHours float64
	now          func() time.Time
	logger       zerolog.Logger
}

func NewFetcher(source RawLogSource, devices []domain.DeviceEndpoint, timeouts Timeouts, hours float64, logger zerolog.Logger) *Fetcher {
	if hours <= 0 {
		hours = defaultHours
	}
	byName := make(map[string]domain.DeviceEndpoint, len(devices))
	for _, device := range devices {
		byName[device.Name] = device
	}
	return &Fetcher{
		source:       source,
		devices:      byName,
		timeouts:     timeouts,
		defaultHours: hours,
		now:          time.Now,
		logger:       logger,
	}
}

func (f *Fetcher) FetchLogs(name string, hours float64) domain.LogFetchResult {
	started := time.Now()
	result := f.fetch(name, hours)
	observability.RecordLogFetch(result, name, time.Since(started))

	event := f.logger.Info()
	if result.Status == domain.LogStatusError {
		event = f.logger.Warn().Str("reason", result.Reason)
	}
	event.Str("device", name).
		Str("status", string(result.Status)).
		Int("count", result.Count).
		Dur("took", time.Since(started)).
		Msg("log fetch finished")
	return result
}

func (f *Fetcher) fetch(name string, hours float64) domain.LogFetchResult {
	if hours <= 0 {
		hours = f.defaultHours
	}

	device, ok := f.devices[name]
	if !ok {
		return errorResult("unknown_device", fmt.Sprintf("miner %s not found", name))
	}
	if device.ManagementHost == "" || device.ManagementPort == 0 {
		return errorResult("not_configured", fmt.Sprintf("management endpoint not configured for %s", name))
	}

	raw, err := f.source.FetchRawLog(device, f.timeouts.Login, f.timeouts.LogTimeoutFor(name))
	if err != nil {
		kind := Kind(err)
		if kind == KindFetch {
			observability.CaptureError(err, map[string]string{
				"component": "devicelog",
				"device":    name,
			}, nil)
		}
		return errorResult(string(kind), fmt.Sprintf("failed to fetch logs: %v", err))
	}

	window := time.Duration(hours * float64(time.Hour))
	lines := ExtractAndWindow(raw, window, f.now())
	if len(lines) == 0 {
		return domain.LogFetchResult{
			Status:  domain.LogStatusEmpty,
			Lines:   []domain.LogLine{},
			Message: fmt.Sprintf("no logs found for %s in the last %s hours", name, strconv.FormatFloat(hours, 'f', -1, 64)),
		}
	}
	return domain.LogFetchResult{
		Status:  domain.LogStatusSuccess,
		Lines:   lines,
		Message: fmt.Sprintf("loaded %d log entries from %s", len(lines), name),
		Count:   len(lines),
	}
}

func errorResult(reason, message string) domain.LogFetchResult {
	return domain.LogFetchResult{
		Status:  domain.LogStatusError,
		Lines:   []domain.LogLine{},
		Message: message,
		Reason:  reason,
	}
}
