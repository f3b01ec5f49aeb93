package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// rawHashrateScale converts the summary "MHS av" field to TH/s once it is
// clearly not already in TH/s.
const rawHashrateScale = 1_000_000

// Summary holds the fields taken from a summary response. Nil pointers are
// absent values.
type Summary struct {
	HashRateTHs     *float64
	UptimeSeconds   *int64
	Uptime          string
	PowerWatts      *int
	AvgTemperatureC *float64
}

// NormalizeSummary accepts both firmware shapes: {"SUMMARY":[{...}]} and
// {"Msg":{...}}. Any other shape yields an empty Summary.
func NormalizeSummary(resp Response) Summary {
	data := summaryObject(resp)
	if len(data) == 0 {
		return Summary{}
	}

	var out Summary
	if mhs, ok := number(data["MHS av"]); ok {
		hashrate := ScaleHashrate(mhs)
		out.HashRateTHs = &hashrate
	}

	uptime, ok := number(data["Uptime"])
	if !ok || uptime == 0 {
		uptime, ok = number(data["Elapsed"])
	}
	if ok && uptime != 0 {
		seconds := int64(uptime)
		out.UptimeSeconds = &seconds
		out.Uptime = FormatUptime(seconds)
	}

	if power, ok := number(data["Power"]); ok && power != 0 {
		watts := int(power)
		out.PowerWatts = &watts
	}
	if temp, ok := number(data["Temperature"]); ok && temp != 0 {
		rounded := round(temp, 1)
		out.AvgTemperatureC = &rounded
	}
	return out
}

// NormalizeDevs returns the per-board temperatures in board order. Boards
// without a temperature are skipped.
func NormalizeDevs(resp Response) []float64 {
	temps := []float64{}
	boards, ok := resp["DEVS"].([]any)
	if !ok {
		return temps
	}
	for _, entry := range boards {
		board, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if temp, ok := number(board["Temperature"]); ok {
			temps = append(temps, round(temp, 1))
		}
	}
	return temps
}

// ScaleHashrate converts the raw average hashrate into TH/s, rounded to two
// decimals.
func ScaleHashrate(value float64) float64 {
	if value > rawHashrateScale {
		value /= rawHashrateScale
	}
	return round(value, 2)
}

// FormatUptime renders seconds as e.g. "1d 1h" or "45s". Zero units are
// omitted and seconds only appear when nothing larger does.
func FormatUptime(seconds int64) string {
	if seconds <= 0 {
		return ""
	}
	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	secs := seconds % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 && secs > 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}

func summaryObject(resp Response) map[string]any {
	if list, ok := resp["SUMMARY"].([]any); ok && len(list) > 0 {
		data, _ := list[0].(map[string]any)
		return data
	}
	data, _ := resp["Msg"].(map[string]any)
	return data
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
