package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by calls on a closed Client.
var ErrClientClosed = errors.New("toolrpc: client closed")

// Client issues concurrent requests over one connection.
type Client struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	err     error
	done    chan struct{}
}

// Dial connects to a tool server websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("toolrpc: dial %s: %w", url, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a request and waits for its response. A server-side error is
// returned as a *RemoteError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("toolrpc: marshal params: %w", err)
	}
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(Request{ID: json.RawMessage(id), Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	c.wmu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("toolrpc: write: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallTool invokes tool.call.
func (c *Client) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("toolrpc: marshal args: %w", err)
	}
	return c.Call(ctx, MethodToolCall, CallParams{Name: name, Args: raw})
}

// ListTools invokes tools.list.
func (c *Client) ListTools(ctx context.Context) ([]Descriptor, error) {
	raw, err := c.Call(ctx, MethodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var res ListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("toolrpc: decode tools.list: %w", err)
	}
	return res.Tools, nil
}

// Close closes the connection and fails pending calls.
func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("toolrpc: read: %w", err))
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		key := string(resp.ID)
		if s, err := strconv.Unquote(key); err == nil {
			key = s
		}
		c.mu.Lock()
		ch := c.pending[key]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- &resp:
			default:
			}
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
