package ports

import (
	"context"

	"github.com/restartfu/minerfleet/internal/domain"
)

type FleetReader interface {
	ReadFleet(ctx context.Context) (domain.FleetSnapshot, error)
}

type LogReader interface {
	ReadLogs(ctx context.Context, miner string, hours float64) (domain.LogFetchResult, error)
}

// FleetCache exposes the last background refresh, if any.
type FleetCache interface {
	Latest() (domain.FleetSnapshot, bool)
	Status() domain.RefresherStatus
}
