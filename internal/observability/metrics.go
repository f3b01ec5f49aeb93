package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/restartfu/minerfleet/internal/domain"
)

var (
	DevicePollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerfleet_device_poll_duration_seconds",
			Help:    "Duration of one device telemetry poll (summary + devs)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
		[]string{"device"},
	)

	DeviceReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minerfleet_device_reachable",
			Help: "1 when the device answered at least one telemetry command in the last poll",
		},
		[]string{"device"},
	)

	DeviceHashrate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minerfleet_device_hashrate_ths",
			Help: "Last reported average hashrate in TH/s",
		},
		[]string{"device"},
	)

	FleetPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minerfleet_fleet_poll_duration_seconds",
			Help:    "Wall time of a full fleet poll cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
		},
	)

	FleetHashrate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minerfleet_fleet_hashrate_ths",
			Help: "Sum of hashrate over reachable devices in TH/s",
		},
	)

	LogFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minerfleet_log_fetches_total",
			Help: "Device log fetches by outcome",
		},
		[]string{"device", "status", "reason"},
	)

	LogFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minerfleet_log_fetch_duration_seconds",
			Help:    "Duration of device log acquisition including fallbacks",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"device"},
	)
)

// RecordDevicePoll updates the per-device gauges from a finished poll.
func RecordDevicePoll(snapshot domain.MetricSnapshot, took time.Duration) {
	DevicePollDuration.WithLabelValues(snapshot.Name).Observe(took.Seconds())
	if !snapshot.Reachable {
		DeviceReachable.WithLabelValues(snapshot.Name).Set(0)
		DeviceHashrate.WithLabelValues(snapshot.Name).Set(0)
		return
	}
	DeviceReachable.WithLabelValues(snapshot.Name).Set(1)
	if snapshot.HashRateTHs != nil {
		DeviceHashrate.WithLabelValues(snapshot.Name).Set(*snapshot.HashRateTHs)
	} else {
		DeviceHashrate.WithLabelValues(snapshot.Name).Set(0)
	}
}

func RecordFleetPoll(total float64, took time.Duration) {
	FleetPollDuration.Observe(took.Seconds())
	FleetHashrate.Set(total)
}

func RecordLogFetch(result domain.LogFetchResult, device string, took time.Duration) {
	LogFetches.WithLabelValues(device, string(result.Status), result.Reason).Inc()
	LogFetchDuration.WithLabelValues(device).Observe(took.Seconds())
}
