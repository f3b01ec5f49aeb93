package telemetry

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/observability"
)

const defaultWorkers = 6

// Poller fans a poll cycle out over a fixed number of workers. The width does
// not depend on fleet size.
type Poller struct {
	sender  Sender
	workers int
	logger  zerolog.Logger
}

func NewPoller(sender Sender, workers int, logger zerolog.Logger) *Poller {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Poller{sender: sender, workers: workers, logger: logger}
}

// PollAll polls every device and returns one snapshot per device sorted by
// display name. It returns only after every device finished or timed out.
func (p *Poller) PollAll(devices []domain.DeviceEndpoint) []domain.MetricSnapshot {
	started := time.Now()
	results := make([]domain.MetricSnapshot, len(devices))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, device := range devices {
		g.Go(func() error {
			results[i] = p.pollIsolated(device)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DisplayName < results[j].DisplayName
	})

	total := TotalHashrate(results)
	observability.RecordFleetPoll(total, time.Since(started))
	p.logger.Debug().
		Int("devices", len(devices)).
		Float64("total_hashrate_ths", total).
		Dur("took", time.Since(started)).
		Msg("fleet poll finished")
	return results
}

// pollIsolated turns a panic in one device's unit of work into an unreachable
// snapshot for that device only.
func (p *Poller) pollIsolated(device domain.DeviceEndpoint) (snapshot domain.MetricSnapshot) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("device", device.Name).Str("panic", fmt.Sprint(r)).Msg("device poll panicked")
			observability.CapturePanic(r, "telemetry", device.Name)
			snapshot = domain.Unreachable(device)
		}
		observability.RecordDevicePoll(snapshot, time.Since(started))
	}()
	return p.Poll(device)
}

// Poll issues summary then devs to one device. The device is reachable when
// either command answered; each command only fills its own fields.
func (p *Poller) Poll(device domain.DeviceEndpoint) domain.MetricSnapshot {
	snapshot := domain.Unreachable(device)
	if device.Host == "" {
		return snapshot
	}

	responses := make(map[Command]Response, len(Commands))
	for _, cmd := range Commands {
		if resp, ok := p.sender.Send(device.Host, device.TelemetryPort, cmd); ok {
			responses[cmd] = resp
		}
	}
	if len(responses) == 0 {
		p.logger.Debug().Str("device", device.Name).Msg("device unreachable")
		return snapshot
	}

	snapshot.Reachable = true
	if resp, ok := responses[CommandSummary]; ok {
		summary := NormalizeSummary(resp)
		snapshot.HashRateTHs = summary.HashRateTHs
		snapshot.UptimeSeconds = summary.UptimeSeconds
		snapshot.Uptime = summary.Uptime
		snapshot.PowerWatts = summary.PowerWatts
		snapshot.AvgTemperatureC = summary.AvgTemperatureC
	}
	if resp, ok := responses[CommandDevs]; ok {
		snapshot.BoardTemperaturesC = NormalizeDevs(resp)
	}
	return snapshot
}

// TotalHashrate sums the hashrate of reachable devices, rounded to two
// decimals. Unreachable or metric-less devices contribute nothing.
func TotalHashrate(snapshots []domain.MetricSnapshot) float64 {
	total := lo.SumBy(snapshots, func(s domain.MetricSnapshot) float64 {
		if !s.Reachable || s.HashRateTHs == nil {
			return 0
		}
		return *s.HashRateTHs
	})
	return math.Round(total*100) / 100
}
