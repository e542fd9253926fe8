// Package stratum implements the wire codec, transport client, and
// subscription registry for a single Electrum-style JSON-RPC-over-TCP
// connection: components A, B, and C of the connection core.
package stratum

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
)

// State is the transport's lifecycle state, per spec §4.B.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StateListener receives lifecycle transitions. Running fires once the
// socket is up; Terminated fires exactly once, however the run ended.
type StateListener interface {
	Running()
	Terminated(previous State)
}

// Dialer opens the underlying connection. Overridable for tests; defaults to
// net.Dial("tcp", addr).
type Dialer func(addr string) (net.Conn, error)

func defaultDialer(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}

type callOutcome struct {
	result []byte
	err    error
}

// Future is a handle to an in-flight Call or Subscribe. It never blocks the
// caller of Call/Subscribe; only Receive blocks, and only the calling
// goroutine.
type Future struct {
	method string
	ch     chan callOutcome
}

// Receive blocks until the call resolves and returns its result or error.
// Exactly one of a nil error with a result, or a non-nil error, is returned.
func (f *Future) Receive() ([]byte, error) {
	outcome := <-f.ch
	return outcome.result, outcome.err
}

type pendingCall struct {
	method string
	out    chan callOutcome
}

// Client owns one socket for the lifetime of one connection attempt. It
// matches replies to pending calls by id and dispatches notifications to
// the subscription registry, synchronously, on its own worker.
type Client struct {
	addr    string
	dial    Dialer
	logger  *logging.Logger
	timeout time.Duration

	subs *subscriptionRegistry

	stateMu  sync.Mutex
	state    State
	started  bool
	conn     net.Conn
	listeners []StateListener
	terminateOnce sync.Once

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	// writeMu/writeCond/writeBuf/writeDone form an unbounded outbound queue:
	// enqueueWrite only ever appends and signals, so it never blocks the
	// caller of Call/Subscribe (spec §5), regardless of how far behind
	// writeLoop's blocking conn.Write has fallen -- a fixed-size channel
	// would make send() block once the backlog filled it.
	writeMu   sync.Mutex
	writeCond *sync.Cond
	writeBuf  [][]byte
	writeDone bool

	doneCh chan struct{}
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithDialer overrides how the transport opens its socket, used by tests to
// connect to an in-process listener instead of a real network address.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dial = d }
}

// WithTimeout enables a per-call deadline. Zero (the default) disables
// timeouts; calls then only resolve on reply or disconnect.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger overrides the transport's logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a transport targeting addr ("host:port"). The
// connection is not opened until Start is called.
func NewClient(addr string, opts ...ClientOption) *Client {
	logger, _ := logging.GetLogger("stratum")
	c := &Client{
		addr:    addr,
		dial:    defaultDialer,
		logger:  logger,
		state:   StateNew,
		pending: make(map[int64]*pendingCall),
		doneCh:  make(chan struct{}),
	}
	c.writeCond = sync.NewCond(&c.writeMu)
	for _, opt := range opts {
		opt(c)
	}
	c.subs = newSubscriptionRegistry(c.logger)
	return c
}

// AddStateListener registers an observer for lifecycle transitions.
func (c *Client) AddStateListener(l StateListener) {
	c.stateMu.Lock()
	c.listeners = append(c.listeners, l)
	c.stateMu.Unlock()
}

// State returns the transport's current lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Start dials the server and begins the read/write workers. Idempotent:
// calling Start after it has already been called is a no-op.
func (c *Client) Start() error {
	c.stateMu.Lock()
	if c.started {
		c.stateMu.Unlock()
		return nil
	}
	c.started = true
	c.state = StateStarting
	c.stateMu.Unlock()

	conn, err := c.dial(c.addr)
	if err != nil {
		c.terminate(fmt.Errorf("stratum: dial %s: %w", c.addr, err))
		return err
	}

	c.stateMu.Lock()
	c.conn = conn
	c.state = StateRunning
	ls := append([]StateListener(nil), c.listeners...)
	c.stateMu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	for _, l := range ls {
		l.Running()
	}
	return nil
}

// Stop idempotently tears down the connection, failing every pending call
// with ErrDisconnected and dropping all subscriptions.
func (c *Client) Stop() error {
	c.terminate(ErrDisconnected)
	return nil
}

// Done returns a channel closed once the transport has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Client) terminate(cause error) {
	c.terminateOnce.Do(func() {
		c.stateMu.Lock()
		previous := c.state
		c.state = StateStopping
		conn := c.conn
		ls := append([]StateListener(nil), c.listeners...)
		c.stateMu.Unlock()

		if conn != nil {
			conn.Close()
		}

		c.writeMu.Lock()
		c.writeDone = true
		c.writeMu.Unlock()
		c.writeCond.Broadcast()

		if cause != ErrDisconnected {
			c.logger.Infof("%s terminating: %s", c.addr, cause)
		}
		c.failAllPending(ErrDisconnected)
		c.subs.clear()

		c.stateMu.Lock()
		c.state = StateTerminated
		c.stateMu.Unlock()

		close(c.doneCh)

		for _, l := range ls {
			l.Terminated(previous)
		}
	})
}

func (c *Client) failAllPending(cause error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.pendingMu.Unlock()

	for _, pc := range pending {
		pc.out <- callOutcome{err: cause}
	}
}

// resolve delivers an outcome to the pending call for id, if it is still
// outstanding. It is safe to call more than once for the same id; only the
// first delivery (whichever source wins the map deletion) takes effect,
// which is how Call/Subscribe/terminate/timeout race safely. Reports
// whether a pending call was found, so callers resolving a response that
// arrived off the wire can tell a genuinely unmatched id from an ordinary
// internal race against a timeout or disconnect.
func (c *Client) resolve(id int64, outcome callOutcome) bool {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	if rpcErr, ok := outcome.err.(*RpcError); ok {
		rpcErr.Method = pc.method
	}
	pc.out <- outcome
	return true
}

// Call issues a non-subscription RPC and returns a Future for its result.
func (c *Client) Call(method string, params []interface{}) *Future {
	return c.send(method, params)
}

// Subscribe issues method as a subscribing RPC: handler is installed in the
// subscription registry, keyed on method and the stringified first
// parameter, before the request is written -- so a notification racing the
// initial reply is never dropped (spec §9, "per-call closures" note; the
// original's SubscribeResult handler is installed before stratumClient.subscribe
// writes the request).
func (c *Client) Subscribe(method string, params []interface{}, handler SubscriptionHandler) *Future {
	var keyParam string
	if len(params) > 0 {
		keyParam = fmt.Sprint(params[0])
	}
	c.subs.add(method, keyParam, handler)
	return c.send(method, params)
}

// Unsubscribe removes exactly one subscription entry, addressing the
// per-address accumulation the original source flagged as a memory leak
// (spec §9).
func (c *Client) Unsubscribe(method, param string) {
	c.subs.remove(method, param)
}

func (c *Client) send(method string, params []interface{}) *Future {
	id := atomic.AddInt64(&c.nextID, 1)
	out := make(chan callOutcome, 1)
	f := &Future{method: method, ch: out}

	if c.State() == StateTerminated {
		out <- callOutcome{err: ErrClosed}
		return f
	}

	c.pendingMu.Lock()
	c.pending[id] = &pendingCall{method: method, out: out}
	c.pendingMu.Unlock()

	line, err := encodeRequest(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.resolve(id, callOutcome{err: err})
		return f
	}

	c.enqueueWrite(line)

	if c.timeout > 0 {
		time.AfterFunc(c.timeout, func() {
			c.resolve(id, callOutcome{err: ErrTimeout})
		})
	}

	return f
}

// enqueueWrite appends line to the outbound queue and wakes writeLoop.
// Unbounded: never blocks regardless of how far writeLoop's conn.Write has
// fallen behind (spec §5, "call and subscribe never block the caller").
func (c *Client) enqueueWrite(line []byte) {
	c.writeMu.Lock()
	c.writeBuf = append(c.writeBuf, line)
	c.writeMu.Unlock()
	c.writeCond.Signal()
}

func (c *Client) writeLoop(conn net.Conn) {
	for {
		c.writeMu.Lock()
		for len(c.writeBuf) == 0 && !c.writeDone {
			c.writeCond.Wait()
		}
		if len(c.writeBuf) == 0 {
			c.writeMu.Unlock()
			return
		}
		line := c.writeBuf[0]
		c.writeBuf = c.writeBuf[1:]
		c.writeMu.Unlock()

		if _, err := conn.Write(line); err != nil {
			c.terminate(fmt.Errorf("stratum: write: %w", err))
			return
		}
	}
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := decodeFrame(line)
		if err != nil {
			c.logger.Warningf("dropping malformed frame from %s: %s", c.addr, err)
			continue
		}
		switch f.kind {
		case frameResponse:
			var matched bool
			if f.resp.Error != nil {
				matched = c.resolve(f.resp.ID, callOutcome{err: &RpcError{Payload: f.resp.Error}})
			} else {
				matched = c.resolve(f.resp.ID, callOutcome{result: f.resp.Result})
			}
			if !matched {
				c.logger.Warningf("dropping unmatched response for id %d", f.resp.ID)
			}
		case frameNotification:
			c.subs.dispatch(f.notif)
		case frameRequest:
			c.logger.Warningf("dropping unexpected server-initiated request %s", f.req.Method)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = ErrDisconnected
	}
	c.terminate(fmt.Errorf("stratum: read: %w", err))
}
