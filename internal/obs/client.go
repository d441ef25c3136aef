// Package obs implements the subset of the obs-websocket v5 protocol the
// recording controller needs: identified connection, scene item lookup,
// input create/remove/enable and record start/stop/status.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// obs-websocket opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// Client is a single-connection obs-websocket client. It is owned by the
// controller loop and is not safe for concurrent use. A transport failure
// drops the connection; the owner reconnects lazily via Connect.
type Client struct {
	endpoint string
	password string
	timeout  time.Duration

	conn   *websocket.Conn
	nextID uint64
}

// NewClient prepares a client for the given ws:// endpoint. No connection is
// made until Connect.
func NewClient(endpoint, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{endpoint: endpoint, password: password, timeout: timeout}
}

// IsConnected reports whether an identified connection is currently held.
func (c *Client) IsConnected() bool {
	return c.conn != nil
}

// Connect dials the endpoint and performs the Hello/Identify/Identified
// handshake, answering the authentication challenge when the server
// requires one. Any existing connection is closed first.
func (c *Client) Connect(ctx context.Context) error {
	c.drop()

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s failed: %w", c.endpoint, err)
	}

	if err := c.identify(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	slog.Debug("Connected to obs-websocket", "endpoint", c.endpoint)
	return nil
}

func (c *Client) identify(conn *websocket.Conn) error {
	var hello struct {
		Authentication *struct {
			Challenge string `json:"challenge"`
			Salt      string `json:"salt"`
		} `json:"authentication"`
		RPCVersion int `json:"rpcVersion"`
	}
	if err := c.readOp(conn, opHello, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}

	identify := struct {
		RPCVersion     int    `json:"rpcVersion"`
		Authentication string `json:"authentication,omitempty"`
	}{RPCVersion: rpcVersion}

	if hello.Authentication != nil {
		if c.password == "" {
			return fmt.Errorf("obs-websocket requires authentication but no password is configured")
		}
		identify.Authentication = authResponse(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	if err := c.writeOp(conn, opIdentify, identify); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var identified struct {
		NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
	}
	if err := c.readOp(conn, opIdentified, &identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}

	return nil
}

// authResponse computes the obs-websocket v5 challenge response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])

	responseHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(responseHash[:])
}

// Close shuts the connection down. Safe to call when not connected.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (c *Client) writeOp(conn *websocket.Conn, op int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return conn.WriteJSON(envelope{Op: op, D: raw})
}

// readOp reads frames until one with the wanted opcode arrives. Event frames
// pushed by the server in between are skipped.
func (c *Client) readOp(conn *websocket.Conn, op int, out any) error {
	deadline := time.Now().Add(c.timeout)
	_ = conn.SetReadDeadline(deadline)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if env.Op == opEvent {
			continue
		}
		if env.Op != op {
			return fmt.Errorf("unexpected opcode %d, want %d", env.Op, op)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(env.D, out)
	}
}

type requestBody struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseBody struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// call performs one synchronous request/response exchange. A transport error
// or timeout drops the connection so the owner reconnects before retrying.
func (c *Client) call(ctx context.Context, requestType string, requestData, responseData any) error {
	if c.conn == nil {
		return fmt.Errorf("not connected to obs-websocket")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)

	req := requestBody{RequestType: requestType, RequestID: id, RequestData: requestData}
	if err := c.writeOp(c.conn, opRequest, req); err != nil {
		c.drop()
		return fmt.Errorf("%s: write failed: %w", requestType, err)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.drop()
			return fmt.Errorf("%s: read failed: %w", requestType, err)
		}
		if env.Op != opRequestResponse {
			continue
		}

		var resp responseBody
		if err := json.Unmarshal(env.D, &resp); err != nil {
			c.drop()
			return fmt.Errorf("%s: malformed response: %w", requestType, err)
		}
		if resp.RequestID != id {
			// Stale response from a call that timed out earlier.
			continue
		}

		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if responseData != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, responseData); err != nil {
				return fmt.Errorf("%s: malformed response data: %w", requestType, err)
			}
		}
		return nil
	}
}
