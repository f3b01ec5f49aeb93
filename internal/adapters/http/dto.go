package http

import (
	"time"

	"github.com/samber/lo"

	"github.com/restartfu/minerfleet/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type minerResponse struct {
	Name               string    `json:"name"`
	DisplayName        string    `json:"display_name"`
	Status             string    `json:"status"`
	HashrateTHs        *float64  `json:"hashrate_ths"`
	UptimeSeconds      *int64    `json:"uptime_seconds"`
	Uptime             string    `json:"uptime"`
	PowerWatts         *int      `json:"power_watts"`
	AvgTemperatureC    *float64  `json:"avg_temperature_c"`
	BoardTemperaturesC []float64 `json:"board_temperatures_c"`
}

type fleetResponse struct {
	Miners        []minerResponse `json:"miners"`
	TotalHashrate float64         `json:"total_hashrate"`
	Online        int             `json:"online"`
	Offline       int             `json:"offline"`
	Time          time.Time       `json:"time"`
}

type refresherResponse struct {
	Enabled         bool       `json:"enabled"`
	IntervalSeconds float64    `json:"interval_seconds"`
	Refreshes       int        `json:"refreshes"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
}

type logsRequest struct {
	Miner string  `json:"miner" param:"name" validate:"required,max=64"`
	Hours float64 `json:"hours" query:"hours" validate:"gte=0,lte=168"`
}

type logLineResponse struct {
	Text    string `json:"text"`
	Flagged bool   `json:"flagged"`
}

type logsResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Count   int               `json:"count"`
	Reason  string            `json:"reason,omitempty"`
	Lines   []logLineResponse `json:"lines"`
}

func newFleetResponse(fleet domain.FleetSnapshot) fleetResponse {
	return fleetResponse{
		Miners:        lo.Map(fleet.Miners, func(m domain.MetricSnapshot, _ int) minerResponse { return newMinerResponse(m) }),
		TotalHashrate: fleet.TotalHashrate,
		Online:        fleet.Online,
		Offline:       fleet.Offline,
		Time:          fleet.Time,
	}
}

func newMinerResponse(m domain.MetricSnapshot) minerResponse {
	status := "offline"
	if m.Reachable {
		status = "online"
	}
	temps := m.BoardTemperaturesC
	if temps == nil {
		temps = []float64{}
	}
	return minerResponse{
		Name:               m.Name,
		DisplayName:        m.DisplayName,
		Status:             status,
		HashrateTHs:        m.HashRateTHs,
		UptimeSeconds:      m.UptimeSeconds,
		Uptime:             m.Uptime,
		PowerWatts:         m.PowerWatts,
		AvgTemperatureC:    m.AvgTemperatureC,
		BoardTemperaturesC: temps,
	}
}

func newRefresherResponse(status domain.RefresherStatus) refresherResponse {
	response := refresherResponse{
		Enabled:         status.Enabled,
		IntervalSeconds: status.Interval.Seconds(),
		Refreshes:       status.Refreshes,
		LastRefresh:     status.LastRefresh,
	}
	if status.LastError != "" {
		errCopy := status.LastError
		response.LastError = &errCopy
	}
	return response
}

func newLogsResponse(result domain.LogFetchResult) logsResponse {
	return logsResponse{
		Status:  string(result.Status),
		Message: result.Message,
		Count:   result.Count,
		Reason:  result.Reason,
		Lines: lo.Map(result.Lines, func(line domain.LogLine, _ int) logLineResponse {
			return logLineResponse{Text: line.Text, Flagged: line.Flagged}
		}),
	}
}
