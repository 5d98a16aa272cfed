package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Client owns one connection to a Server and multiplexes calls against
// whatever named objects that Server hosts. A single connection's frames
// are strictly ordered, so Client serialises writes but lets each pending
// call wait independently for its own response.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan response

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a Server listening on a UNIX socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", path, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var resp response
		if err := readFrame(c.conn, &resp); err != nil {
			c.failAllPending(err)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.CallID]
		if ok {
			delete(c.pending, resp.CallID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- response{CallID: id, OK: false, ErrKind: ErrConnectionClosed, ErrMsg: err.Error()}
		delete(c.pending, id)
	}
}

// Close shuts down the connection and fails any call still waiting on a
// response.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Call performs a synchronous call against target.method, unmarshalling
// the returned value into out (a pointer), or returning a *RemoteError if
// the remote method raised.
func (c *Client) Call(target, method string, out interface{}, args ...interface{}) error {
	resp, err := c.roundTrip(target, method, false, args)
	if err != nil {
		return err
	}
	if !resp.OK {
		return remoteOrTransportError(resp)
	}
	if out == nil || len(resp.Value) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Value, out)
}

// CallOneway fires a call and returns as soon as it has been written,
// without waiting for the target to finish executing it — used for
// fire-and-forget notifications such as motion-status broadcasts
// (spec.md §4.1's "one-way" call kind).
func (c *Client) CallOneway(target, method string, args ...interface{}) error {
	_, err := c.roundTrip(target, method, true, args)
	return err
}

func (c *Client) roundTrip(target, method string, oneway bool, args []interface{}) (response, error) {
	callID := atomic.AddInt64(&c.nextID, 1)
	encoded := make([]json.RawMessage, len(args))
	for i, a := range args {
		encoded[i] = encodeArg(a)
	}
	req := request{
		CallID: callID,
		Target: target,
		Method: method,
		Args:   encoded,
		Oneway: oneway,
	}

	var waitCh chan response
	if !oneway {
		waitCh = make(chan response, 1)
		c.pendingMu.Lock()
		c.pending[callID] = waitCh
		c.pendingMu.Unlock()
	}

	c.writeMu.Lock()
	err := writeFrame(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		if !oneway {
			c.pendingMu.Lock()
			delete(c.pending, callID)
			c.pendingMu.Unlock()
		}
		return response{}, err
	}
	if oneway {
		return response{}, nil
	}
	select {
	case resp := <-waitCh:
		return resp, nil
	case <-c.closed:
		return response{}, newError(ErrConnectionClosed, "client closed while awaiting response")
	}
}

func remoteOrTransportError(resp response) error {
	if resp.ErrKind == ErrRemoteRaised {
		return &RemoteError{RemoteKind: resp.ErrKind.String(), RemoteMsg: resp.ErrMsg}
	}
	return &TransportError{Kind: resp.ErrKind, Msg: resp.ErrMsg}
}

func (k ErrKind) String() string { return string(k) }
