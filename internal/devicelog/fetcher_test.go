package devicelog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/restartfu/minerfleet/internal/domain"
)

type fakeSource struct {
	body       string
	err        error
	device     domain.DeviceEndpoint
	login, log time.Duration
}

func (f *fakeSource) FetchRawLog(device domain.DeviceEndpoint, loginTimeout, logTimeout time.Duration) (string, error) {
	f.device = device
	f.login = loginTimeout
	f.log = logTimeout
	return f.body, f.err
}

var fetcherDevices = []domain.DeviceEndpoint{
	{Name: "84", ManagementHost: "10.0.0.2", ManagementPort: 1001},
	{Name: "131", ManagementHost: "10.0.0.2", ManagementPort: 1004},
	{Name: "orphan"},
}

var fetcherTimeouts = Timeouts{
	Login:     10 * time.Second,
	Log:       30 * time.Second,
	PerDevice: map[string]time.Duration{"131": 45 * time.Second},
}

func newTestFetcher(source RawLogSource) *Fetcher {
	fetcher := NewFetcher(source, fetcherDevices, fetcherTimeouts, 0, zerolog.Nop())
	fetcher.now = func() time.Time { return testNow }
	return fetcher
}

func recentMarkup(n int) string {
	var lines []string
	for i := n; i > 0; i-- {
		lines = append(lines, stamped(i, "E board reset"))
	}
	return "<pre>" + strings.Join(lines, "\n") + "</pre>"
}

func TestFetchLogsSuccess(t *testing.T) {
	source := &fakeSource{body: recentMarkup(12)}
	result := newTestFetcher(source).FetchLogs("131", 0)

	if result.Status != domain.LogStatusSuccess || result.Count != 12 || len(result.Lines) != 12 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Message != "loaded 12 log entries from 131" {
		t.Fatalf("message = %q", result.Message)
	}
	if !result.Lines[0].Flagged {
		t.Fatal("expected standalone E to be flagged")
	}
	if source.log != 45*time.Second || source.login != 10*time.Second {
		t.Fatalf("timeouts = %s/%s", source.login, source.log)
	}
}

func TestFetchLogsDefaultTimeout(t *testing.T) {
	source := &fakeSource{body: recentMarkup(12)}
	newTestFetcher(source).FetchLogs("84", 1)
	if source.log != 30*time.Second {
		t.Fatalf("log timeout = %s, want 30s", source.log)
	}
	if source.device.ManagementPort != 1001 {
		t.Fatalf("device = %+v", source.device)
	}
}

func TestFetchLogsEmpty(t *testing.T) {
	result := newTestFetcher(&fakeSource{body: "<html></html>"}).FetchLogs("84", 0)
	if result.Status != domain.LogStatusEmpty || result.Count != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Message != "no logs found for 84 in the last 2 hours" {
		t.Fatalf("message = %q", result.Message)
	}

	result = newTestFetcher(&fakeSource{body: ""}).FetchLogs("84", 0.5)
	if result.Message != "no logs found for 84 in the last 0.5 hours" {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestFetchLogsErrors(t *testing.T) {
	tests := []struct {
		name   string
		miner  string
		err    error
		reason string
	}{
		{name: "unknown device", miner: "999", reason: "unknown_device"},
		{name: "no management endpoint", miner: "orphan", reason: "not_configured"},
		{name: "auth failed", miner: "84", err: &FetchError{Kind: KindAuthFailed, StatusCode: 200}, reason: "auth_failed"},
		{name: "timeout", miner: "84", err: &FetchError{Kind: KindTimeout, Err: errors.New("deadline")}, reason: "timeout"},
		{name: "status", miner: "84", err: &FetchError{Kind: KindStatus, StatusCode: 500}, reason: "status_error"},
		{name: "foreign error", miner: "84", err: errors.New("boom"), reason: "fetch_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestFetcher(&fakeSource{err: tt.err}).FetchLogs(tt.miner, 2)
			if result.Status != domain.LogStatusError || result.Reason != tt.reason {
				t.Fatalf("unexpected result %+v", result)
			}
			if result.Lines == nil || len(result.Lines) != 0 || result.Message == "" {
				t.Fatalf("error result should carry a message and no lines: %+v", result)
			}
		})
	}
}

func TestTimeoutsLogTimeoutFor(t *testing.T) {
	if got := fetcherTimeouts.LogTimeoutFor("131"); got != 45*time.Second {
		t.Fatalf("131 = %s", got)
	}
	if got := fetcherTimeouts.LogTimeoutFor("84"); got != 30*time.Second {
		t.Fatalf("84 = %s", got)
	}
}
