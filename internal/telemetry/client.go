package telemetry

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

type Command string

const (
	CommandSummary Command = "summary"
	CommandDevs    Command = "devs"
)

// Commands is the fixed per-device request sequence.
var Commands = []Command{CommandSummary, CommandDevs}

const (
	defaultTimeout = 3 * time.Second
	readChunkSize  = 4096
	maxResponse    = 1 << 20
)

type request struct {
	Command Command `json:"command"`
}

// Sender sends one command to one device. ok=false is the uniform "no
// telemetry" signal.
type Sender interface {
	Send(host string, port int, cmd Command) (Response, bool)
}

// Client talks the miner API over short-lived TCP connections. It never reuses
// a connection.
type Client struct {
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{timeout: timeout, logger: logger}
}

func (c *Client) Send(host string, port int, cmd Command) (Response, bool) {
	if host == "" {
		return nil, false
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	raw, err := c.exchange(addr, cmd)
	if err != nil {
		c.logger.Debug().Err(err).Str("addr", addr).Str("command", string(cmd)).Msg("telemetry exchange failed")
		return nil, false
	}
	resp, ok := Decode(raw)
	if !ok {
		c.logger.Debug().Str("addr", addr).Str("command", string(cmd)).Int("bytes", len(raw)).Msg("telemetry response not decodable")
	}
	return resp, ok
}

func (c *Client) exchange(addr string, cmd Command) ([]byte, error) {
	payload, err := json.Marshal(request{Command: cmd})
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	return c.readUntilIdle(conn)
}

// readUntilIdle accumulates bytes until the peer closes or a read stays idle
// for the timeout. Both mean the device is done sending.
func (c *Client) readUntilIdle(conn net.Conn) ([]byte, error) {
	var out []byte
	buf := make([]byte, readChunkSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if len(out) > maxResponse {
				return out[:maxResponse], nil
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			return out, nil
		}
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
}
