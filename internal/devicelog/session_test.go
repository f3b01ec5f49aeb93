package devicelog

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/restartfu/minerfleet/internal/domain"
)

const (
	loginPage  = `<html><body><h2>Authorization Required</h2><form method="post"></form></body></html>`
	syslogBody = `<html><body><textarea>10-19 11:00:00 cgminer: chain 1 ok</textarea></body></html>`
)

// fakeConsole mimics a luci management console. syslogStatus overrides the
// syslog page status; logCGIStatus does the same for log.cgi.
type fakeConsole struct {
	syslogStatus atomic.Int32
	logCGIStatus atomic.Int32
	delay        time.Duration
	logins       atomic.Int32
	// rejectStatus is the status of a refused login; zero means 403.
	rejectStatus int
}

func newFakeConsole() *fakeConsole {
	console := &fakeConsole{}
	console.syslogStatus.Store(http.StatusOK)
	console.logCGIStatus.Store(http.StatusNotFound)
	return console
}

func (f *fakeConsole) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(loginPage))
			return
		}
		f.logins.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("luci_username") != "root" || r.PostForm.Get("luci_password") != "secret" {
			status := f.rejectStatus
			if status == 0 {
				status = http.StatusForbidden
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(loginPage))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sysauth", Value: "token", Path: "/"})
		http.Redirect(w, r, "/cgi-bin/luci/admin", http.StatusFound)
	})
	mux.HandleFunc("/cgi-bin/luci/admin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>status overview</html>"))
	})
	mux.HandleFunc(syslogPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		status := int(f.syslogStatus.Load())
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(syslogBody))
		}
	})
	mux.HandleFunc(fallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		status := int(f.logCGIStatus.Load())
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte("<pre>from log.cgi</pre>"))
		}
	})
	return mux
}

func authorized(r *http.Request) bool {
	cookie, err := r.Cookie("sysauth")
	return err == nil && cookie.Value == "token"
}

func deviceFor(t *testing.T, rawURL, password string) domain.DeviceEndpoint {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, portText, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, _ := strconv.Atoi(portText)
	return domain.DeviceEndpoint{
		Name:           "131",
		ManagementHost: host,
		ManagementPort: port,
		Credentials:    domain.Credentials{Username: "root", Password: password},
	}
}

func TestFetchRawLogHTTPS(t *testing.T) {
	console := newFakeConsole()
	server := httptest.NewTLSServer(console.handler())
	defer server.Close()

	client := NewSessionClient(zerolog.Nop())
	body, err := client.FetchRawLog(deviceFor(t, server.URL, "secret"), time.Second, time.Second)
	if err != nil {
		t.Fatalf("FetchRawLog error: %v", err)
	}
	if body != syslogBody {
		t.Fatalf("body = %q", body)
	}
	if got := console.logins.Load(); got != 1 {
		t.Fatalf("logins = %d, want 1", got)
	}
}

func TestFetchRawLogAuthFailed(t *testing.T) {
	server := httptest.NewTLSServer(newFakeConsole().handler())
	defer server.Close()

	_, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "wrong"), time.Second, time.Second)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != KindAuthFailed {
		t.Fatalf("expected auth_failed, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", fetchErr.StatusCode)
	}
}

func TestFetchRawLogAuthMarkerWithOKStatus(t *testing.T) {
	console := newFakeConsole()
	console.rejectStatus = http.StatusOK
	server := httptest.NewTLSServer(console.handler())
	defer server.Close()

	_, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "wrong"), time.Second, time.Second)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != KindAuthFailed {
		t.Fatalf("expected auth_failed, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", fetchErr.StatusCode)
	}
}

func TestFetchRawLogUsesLogCGI(t *testing.T) {
	console := newFakeConsole()
	console.syslogStatus.Store(http.StatusNotFound)
	console.logCGIStatus.Store(http.StatusOK)
	server := httptest.NewTLSServer(console.handler())
	defer server.Close()

	body, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "secret"), time.Second, time.Second)
	if err != nil {
		t.Fatalf("FetchRawLog error: %v", err)
	}
	if !strings.Contains(body, "from log.cgi") {
		t.Fatalf("body = %q", body)
	}
}

func TestFetchRawLogStatusError(t *testing.T) {
	console := newFakeConsole()
	console.syslogStatus.Store(http.StatusInternalServerError)
	server := httptest.NewTLSServer(console.handler())
	defer server.Close()

	_, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "secret"), time.Second, time.Second)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != KindStatus {
		t.Fatalf("expected status_error, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want syslog status", fetchErr.StatusCode)
	}
}

func TestFetchRawLogFallsBackToHTTP(t *testing.T) {
	console := newFakeConsole()
	server := httptest.NewServer(console.handler())
	defer server.Close()

	body, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "secret"), time.Second, time.Second)
	if err != nil {
		t.Fatalf("FetchRawLog error: %v", err)
	}
	if body != syslogBody {
		t.Fatalf("body = %q", body)
	}
}

func TestFetchRawLogHTTPFallbackReturnsBodyAsIs(t *testing.T) {
	console := newFakeConsole()
	server := httptest.NewServer(console.handler())
	defer server.Close()

	// Over plain HTTP neither the auth marker nor the status is inspected.
	body, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "wrong"), time.Second, time.Second)
	if err != nil {
		t.Fatalf("FetchRawLog error: %v", err)
	}
	if body != "" {
		t.Fatalf("expected empty forbidden body, got %q", body)
	}
}

func TestFetchRawLogUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := "http://" + ln.Addr().String()
	ln.Close()

	_, err = NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, addr, "secret"), time.Second, time.Second)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != KindFetch {
		t.Fatalf("expected fetch_error, got %v", err)
	}
	if !strings.Contains(err.Error(), "https:") || !strings.Contains(err.Error(), "http fallback:") {
		t.Fatalf("error should carry both causes: %v", err)
	}
}

func TestFetchRawLogTimeout(t *testing.T) {
	console := newFakeConsole()
	console.delay = time.Second
	server := httptest.NewServer(console.handler())
	defer server.Close()

	_, err := NewSessionClient(zerolog.Nop()).FetchRawLog(deviceFor(t, server.URL, "secret"), 100*time.Millisecond, 100*time.Millisecond)
	if kind := Kind(err); kind != KindTimeout {
		t.Fatalf("expected timeout, got %v (%v)", kind, err)
	}
}

func TestSessionsDoNotShareCookies(t *testing.T) {
	client := NewSessionClient(zerolog.Nop())
	device := domain.DeviceEndpoint{Name: "a", ManagementHost: "127.0.0.1", ManagementPort: 1}

	first, err := client.newSession("https", device, time.Second, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.newSession("http", device, time.Second, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if first.client.Jar == second.client.Jar || first.id == second.id {
		t.Fatal("sessions must not share state")
	}
	if first.base != "https://127.0.0.1:1" || second.base != "http://127.0.0.1:1" {
		t.Fatalf("bases = %q %q", first.base, second.base)
	}
}
