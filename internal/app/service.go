package app

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/ports"
)

type Service struct {
	fleetReader ports.FleetReader
	logReader   ports.LogReader
	fleetCache  ports.FleetCache
	palette     map[string]string
}

func NewService(fleetReader ports.FleetReader, logReader ports.LogReader, fleetCache ports.FleetCache, palette map[string]string) *Service {
	return &Service{
		fleetReader: fleetReader,
		logReader:   logReader,
		fleetCache:  fleetCache,
		palette:     palette,
	}
}

func (s *Service) Health() domain.Health {
	return domain.Health{
		Status: "ok",
		Time:   time.Now().UTC(),
	}
}

func (s *Service) Fleet(ctx context.Context) (domain.FleetSnapshot, error) {
	return s.fleetReader.ReadFleet(ctx)
}

func (s *Service) CachedFleet() (domain.FleetSnapshot, bool) {
	if s.fleetCache == nil {
		return domain.FleetSnapshot{}, false
	}
	return s.fleetCache.Latest()
}

func (s *Service) RefresherStatus() domain.RefresherStatus {
	if s.fleetCache == nil {
		return domain.RefresherStatus{}
	}
	return s.fleetCache.Status()
}

func (s *Service) Logs(ctx context.Context, miner string, hours float64) (domain.LogFetchResult, error) {
	return s.logReader.ReadLogs(ctx, miner, hours)
}

func (s *Service) Palette() map[string]string {
	return lo.Assign(s.palette)
}
