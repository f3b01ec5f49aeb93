package devicelog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/restartfu/minerfleet/internal/domain"
)

const (
	loginPath    = "/cgi-bin/luci"
	syslogPath   = "/cgi-bin/luci/admin/status/syslog"
	fallbackPath = "/cgi-bin/log.cgi"

	// authMarker is present in the login page, so seeing it after posting
	// credentials means the device did not accept them.
	authMarker = "Authorization Required"

	maxBodyBytes = 8 << 20

	defaultLoginTimeout = 10 * time.Second
	defaultLogTimeout   = 30 * time.Second
)

// SessionClient acquires raw syslog markup from a device management console.
// Every call builds its own sessions; nothing is shared between calls.
type SessionClient struct {
	logger zerolog.Logger
}

func NewSessionClient(logger zerolog.Logger) *SessionClient {
	return &SessionClient{logger: logger}
}

// FetchRawLog logs in over HTTPS and reads the syslog page, trying log.cgi when
// the syslog page answers with a non-200 status. A transport failure in the
// HTTPS phase restarts the whole exchange over plain HTTP with a new session.
func (c *SessionClient) FetchRawLog(device domain.DeviceEndpoint, loginTimeout, logTimeout time.Duration) (string, error) {
	if loginTimeout <= 0 {
		loginTimeout = defaultLoginTimeout
	}
	if logTimeout <= 0 {
		logTimeout = defaultLogTimeout
	}

	secure, err := c.newSession("https", device, loginTimeout, logTimeout)
	if err != nil {
		return "", &FetchError{Kind: KindFetch, Err: err}
	}
	body, httpsErr := secure.fetchSecure(device.Credentials)
	secure.close()
	if httpsErr == nil {
		return body, nil
	}
	var terminal *FetchError
	if errors.As(httpsErr, &terminal) {
		return "", terminal
	}

	secure.logger.Warn().Err(httpsErr).Msg("https log fetch failed, retrying over http")

	plain, err := c.newSession("http", device, loginTimeout, logTimeout)
	if err != nil {
		return "", &FetchError{Kind: KindFetch, Err: err}
	}
	defer plain.close()
	body, httpErr := plain.fetchPlain(device.Credentials)
	if httpErr == nil {
		return body, nil
	}

	kind := KindFetch
	if isTimeout(httpErr) {
		kind = KindTimeout
	}
	return "", &FetchError{
		Kind: kind,
		Err:  fmt.Errorf("https: %v; http fallback: %w", httpsErr, httpErr),
	}
}

// session is the per-transport state of one acquisition: cookie jar, scheme
// and timeouts. The HTTP fallback never reuses the HTTPS session.
type session struct {
	id           string
	scheme       string
	base         string
	client       *http.Client
	transport    *http.Transport
	loginTimeout time.Duration
	logTimeout   time.Duration
	logger       zerolog.Logger
}

func (c *SessionClient) newSession(scheme string, device domain.DeviceEndpoint, loginTimeout, logTimeout time.Duration) (*session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: loginTimeout}).DialContext,
		// Device consoles serve self-signed certificates on the fleet LAN.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout: loginTimeout,
		MaxIdleConnsPerHost: 1,
	}

	id := uuid.NewString()
	base := (&url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(device.ManagementHost, strconv.Itoa(device.ManagementPort)),
	}).String()

	return &session{
		id:     id,
		scheme: scheme,
		base:   base,
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
		},
		transport:    transport,
		loginTimeout: loginTimeout,
		logTimeout:   logTimeout,
		logger: c.logger.With().
			Str("session", id).
			Str("device", device.Name).
			Str("scheme", scheme).
			Logger(),
	}, nil
}

func (s *session) close() {
	s.transport.CloseIdleConnections()
}

func (s *session) fetchSecure(creds domain.Credentials) (string, error) {
	status, _, err := s.get(loginPath, s.loginTimeout)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Int("status", status).Int("cookies", s.cookieCount()).Msg("login page loaded")

	status, body, err := s.login(creds)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Int("status", status).Int("bytes", len(body)).Int("cookies", s.cookieCount()).Msg("credentials posted")
	if strings.Contains(body, authMarker) {
		return "", &FetchError{Kind: KindAuthFailed, StatusCode: status, Err: errLoginRejected}
	}

	status, body, err = s.get(syslogPath, s.logTimeout)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		s.logger.Debug().Int("bytes", len(body)).Msg("syslog page loaded")
		return body, nil
	}

	s.logger.Debug().Int("status", status).Msg("syslog page refused, trying log.cgi")
	fallbackStatus, fallbackBody, err := s.get(fallbackPath, s.logTimeout)
	if err == nil && fallbackStatus == http.StatusOK {
		return fallbackBody, nil
	}
	return "", &FetchError{Kind: KindStatus, StatusCode: status}
}

// fetchPlain is the degraded path: status codes are not inspected and the
// syslog body is returned as-is.
func (s *session) fetchPlain(creds domain.Credentials) (string, error) {
	if _, _, err := s.get(loginPath, s.loginTimeout); err != nil {
		return "", err
	}
	if _, _, err := s.login(creds); err != nil {
		return "", err
	}
	status, body, err := s.get(syslogPath, s.logTimeout)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Int("status", status).Int("bytes", len(body)).Msg("syslog page loaded over http")
	return body, nil
}

func (s *session) login(creds domain.Credentials) (int, string, error) {
	form := url.Values{}
	form.Set("luci_username", creds.Username)
	form.Set("luci_password", creds.Password)
	return s.do(http.MethodPost, loginPath, strings.NewReader(form.Encode()), s.loginTimeout)
}

func (s *session) get(path string, timeout time.Duration) (int, string, error) {
	return s.do(http.MethodGet, path, nil, timeout)
}

func (s *session) do(method, path string, body io.Reader, timeout time.Duration) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(payload), nil
}

func (s *session) cookieCount() int {
	base, err := url.Parse(s.base)
	if err != nil {
		return 0
	}
	return len(s.client.Jar.Cookies(base))
}
