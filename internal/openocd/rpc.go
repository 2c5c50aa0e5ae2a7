package openocd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// terminator ends every Tcl RPC message in both directions.
const terminator = 0x1a

// Client speaks OpenOCD's Tcl RPC protocol. It is safe for concurrent
// use; commands are serialized.
type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	addr   string
	logger *zap.Logger

	mu sync.Mutex
}

// Dial connects to a Tcl RPC port.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		addr:   conn.RemoteAddr().String(),
		logger: logger,
	}
}

// Exec runs command and returns its result. A Tcl error raised by the
// command is returned as *CommandError.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	start := time.Now()
	wrapped := fmt.Sprintf("concat [catch {%s} _rst_res] $_rst_res", command)
	if _, err := c.conn.Write(append([]byte(wrapped), terminator)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ConnectionError{Address: c.addr, Err: err}
	}

	resp, err := c.r.ReadString(terminator)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ConnectionError{Address: c.addr, Err: err}
	}
	resp = strings.TrimSuffix(resp, string(rune(terminator)))

	code, result, ok := splitReply(resp)
	c.logger.Debug("openocd command",
		zap.String("command", command),
		zap.Int("code", code),
		zap.String("result", result),
		zap.Duration("duration", time.Since(start)),
	)
	if !ok {
		return "", &ProtocolError{Command: command, Response: resp}
	}
	if code != 0 {
		return "", &CommandError{Command: command, Code: code, Message: result}
	}
	return result, nil
}

// splitReply separates the catch code from the result text.
func splitReply(resp string) (code int, result string, ok bool) {
	resp = strings.TrimSpace(resp)
	head, rest, _ := strings.Cut(resp, " ")
	code, err := strconv.Atoi(head)
	if err != nil {
		return 0, "", false
	}
	return code, strings.TrimSpace(rest), true
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// parseWords parses the hex list returned by read_memory.
func parseWords(result string, want int) ([]uint32, error) {
	fields := strings.Fields(result)
	if len(fields) != want {
		return nil, fmt.Errorf("expected %d words, got %d", want, len(fields))
	}
	out := make([]uint32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", i, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}
