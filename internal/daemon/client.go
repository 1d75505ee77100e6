package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client speaks the wire protocol to a running daemon. Socket failures come
// back as *Error with code daemon_unavailable so callers can branch on the
// code without unwrapping.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient returns a client for the socket path.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 10 * time.Second}
}

func unavailable(err error) *Error {
	return &Error{Code: CodeDaemonUnavailable, Message: fmt.Sprintf("daemon unavailable: %v", err)}
}

// Call runs one op and returns the result payload. The returned error is
// always a *Error.
func (c *Client) Call(op string, args any) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return nil, unavailable(err)
	}
	defer conn.Close()
	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	resp, err := roundTrip(conn, op, args)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, E(CodeInvalidRequest, "op %s failed without error detail", op)
	}
	return resp.Result, nil
}

// CallInto runs one op and decodes the result into out.
func (c *Client) CallInto(op string, args, out any) error {
	result, err := c.Call(op, args)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return E(CodeInvalidRequest, "decode %s result: %v", op, err)
	}
	return nil
}

func roundTrip(conn net.Conn, op string, args any) (*Response, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, E(CodeInvalidRequest, "encode args: %v", err)
		}
		raw = data
	}
	if err := writeFrame(conn, Request{V: 1, Op: op, Args: raw}); err != nil {
		return nil, unavailable(err)
	}
	var resp Response
	if err := readFrame(newFrameReader(conn), &resp); err != nil {
		return nil, unavailable(err)
	}
	return &resp, nil
}

// attachedConn keeps any pty bytes the ack reader buffered ahead of the
// raw switch.
type attachedConn struct {
	net.Conn
	r *bufio.Reader
}

func (a *attachedConn) Read(p []byte) (int, error) { return a.r.Read(p) }

// TermAttach performs the attach handshake and hands back the raw
// connection: pty output arrives on reads, writes go to the pty master.
// The caller owns closing it.
func (c *Client) TermAttach(groupID, actorID, by string) (net.Conn, error) {
	conn, err := net.Dial("unix", c.SocketPath)
	if err != nil {
		return nil, unavailable(err)
	}
	args, _ := json.Marshal(map[string]string{
		"group_id": groupID, "actor_id": actorID, "by": by,
	})
	if err := writeFrame(conn, Request{V: 1, Op: "term_attach", Args: args}); err != nil {
		conn.Close()
		return nil, unavailable(err)
	}
	r := newFrameReader(conn)
	var resp Response
	if err := readFrame(r, &resp); err != nil {
		conn.Close()
		return nil, unavailable(err)
	}
	if !resp.OK {
		conn.Close()
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, E(CodeActorNotRunning, "term_attach refused")
	}
	return &attachedConn{Conn: conn, r: r}, nil
}
