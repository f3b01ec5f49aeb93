package telemetry

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Response is one decoded telemetry object, e.g. {"SUMMARY":[...]}.
type Response map[string]any

// Decode runs the strict stage and then the salvage stage. Miners are known to
// append NUL bytes or partial frames after the JSON document.
func Decode(raw []byte) (Response, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	if resp, ok := DecodeStrict(raw); ok {
		return resp, true
	}
	return Salvage(raw)
}

// DecodeStrict decodes raw as a single non-empty JSON object.
func DecodeStrict(raw []byte) (Response, bool) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	if len(resp) == 0 {
		return nil, false
	}
	return resp, true
}

// Salvage decodes the bytes between the first '{' and the last '}'.
func Salvage(raw []byte) (Response, bool) {
	first := bytes.IndexByte(raw, '{')
	last := bytes.LastIndexByte(raw, '}')
	if first == -1 || last <= first {
		return nil, false
	}
	return DecodeStrict(raw[first : last+1])
}
