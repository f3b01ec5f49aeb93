package fleetadapter

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/telemetry"
)

type Poller interface {
	PollAll(devices []domain.DeviceEndpoint) []domain.MetricSnapshot
}

type LogFetcher interface {
	FetchLogs(name string, hours float64) domain.LogFetchResult
}

// Reader binds the fleet inventory to the telemetry and log cores. A started
// poll or fetch is not cancelled; ctx is only checked before starting.
type Reader struct {
	poller  Poller
	logs    LogFetcher
	devices []domain.DeviceEndpoint
}

func NewReader(poller Poller, logs LogFetcher, devices []domain.DeviceEndpoint) *Reader {
	return &Reader{
		poller:  poller,
		logs:    logs,
		devices: devices,
	}
}

func (r *Reader) ReadFleet(ctx context.Context) (domain.FleetSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.FleetSnapshot{}, err
	}
	miners := r.poller.PollAll(r.devices)
	online := lo.CountBy(miners, func(m domain.MetricSnapshot) bool {
		return m.Reachable
	})
	return domain.FleetSnapshot{
		Miners:        miners,
		TotalHashrate: telemetry.TotalHashrate(miners),
		Online:        online,
		Offline:       len(miners) - online,
		Time:          time.Now().UTC(),
	}, nil
}

func (r *Reader) ReadLogs(ctx context.Context, miner string, hours float64) (domain.LogFetchResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.LogFetchResult{}, err
	}
	return r.logs.FetchLogs(miner, hours), nil
}
