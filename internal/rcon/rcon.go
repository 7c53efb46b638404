// Package rcon is the control channel to the game server: a shared RCON
// connection plus the handful of server commands the bot relies on.
package rcon

import (
	"fmt"
	"net"
	"regexp"
	"sync"

	"github.com/gorcon/rcon"
)

// ControlError wraps a failed control-channel call. Retriable errors are
// transient (timeouts, connection loss) and safe to retry next cycle.
type ControlError struct {
	Cmd       string
	Retriable bool
	Err       error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control channel: %s: %v", e.Cmd, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

var colorCodes = regexp.MustCompile(`\^\d`)

// StripColors removes Quake color codes (^0..^9) from a string.
func StripColors(s string) string {
	return colorCodes.ReplaceAllString(s, "")
}

// Client provides a shared, mutex-protected RCON connection with
// auto-reconnect. All commands serialize through it.
type Client struct {
	addr     string
	password string
	mu       sync.Mutex
	conn     *rcon.Conn
}

func NewClient(host, port, password string) *Client {
	return &Client{
		addr:     net.JoinHostPort(host, port),
		password: password,
	}
}

// Execute runs a raw command, reconnecting once on failure.
func (c *Client) Execute(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.getConn()
	if err != nil {
		return "", &ControlError{Cmd: cmd, Retriable: true, Err: err}
	}

	resp, err := conn.Execute(cmd)
	if err != nil {
		// Connection may be stale; close and retry once
		c.conn.Close()
		c.conn = nil

		conn, err = c.getConn()
		if err != nil {
			return "", &ControlError{Cmd: cmd, Retriable: true, Err: err}
		}
		resp, err = conn.Execute(cmd)
		if err != nil {
			c.conn.Close()
			c.conn = nil
			return "", &ControlError{Cmd: cmd, Retriable: true, Err: err}
		}
	}
	return resp, nil
}

func (c *Client) getConn() (*rcon.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := rcon.Dial(c.addr, c.password, rcon.SetMaxCommandLen(4096))
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Players queries the authoritative roster.
func (c *Client) Players() (*GameInfo, error) {
	resp, err := c.Execute("players")
	if err != nil {
		return nil, err
	}
	info, perr := ParseGameInfo(resp)
	if perr != nil {
		return nil, &ControlError{Cmd: "players", Retriable: true, Err: perr}
	}
	return info, nil
}

// Say broadcasts a message to all players.
func (c *Client) Say(msg string) error {
	_, err := c.Execute(fmt.Sprintf(`say "%s"`, msg))
	return err
}

// Tell sends a private message to one slot.
func (c *Client) Tell(slot int, msg string) error {
	_, err := c.Execute(fmt.Sprintf(`tell %d "%s"`, slot, msg))
	return err
}

// BigText flashes a message across every player's screen.
func (c *Client) BigText(msg string) error {
	_, err := c.Execute(fmt.Sprintf(`bigtext "%s"`, msg))
	return err
}
