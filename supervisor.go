package stratumcore

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	expbackoff "github.com/cenkalti/backoff"
	"github.com/op/go-logging"

	"github.com/kynelabs/stratumcore/stratum"
)

// SupervisorState is the connection supervisor's lifecycle state (spec §4.D).
type SupervisorState int

const (
	Idle SupervisorState = iota
	Selecting
	Connecting
	Connected
	Backoff
	Stopped
)

func (s SupervisorState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const maxBackoff = 16 * time.Second

// supervisorConfig carries everything the supervisor needs that isn't
// reducible to its own state -- the set of candidate servers, the logger, and
// the options each new transport is built with (how to dial, call timeout).
type supervisorConfig struct {
	addresses []ServerAddress
	logger    *logging.Logger
	dialer    stratum.Dialer
	timeout   time.Duration
}

// messages consumed by the supervisor's single run goroutine. Routing every
// external signal -- start/stop requests, transport lifecycle events, the
// reconnect timer -- through one channel means the state machine never
// shares a lock with the transport's own synchronous Stop()/terminate()
// callback chain (spec §9, "Service lifecycle").
type startMsg struct{}

type stopMsg struct {
	done chan struct{}
}

type transportRunningMsg struct {
	transport *stratum.Client
}

type transportTerminatedMsg struct {
	transport *stratum.Client
	previous  stratum.State
}

type reconnectFiredMsg struct{}

// transportStateBridge adapts one transport's StateListener callbacks into
// messages on the supervisor's channel. A bridge is scoped to exactly one
// transport instance, so the supervisor can recognize and drop messages from
// a transport it has already superseded.
type transportStateBridge struct {
	sup       *Supervisor
	transport *stratum.Client
}

func (b *transportStateBridge) Running() {
	b.sup.msgChan <- transportRunningMsg{transport: b.transport}
}

func (b *transportStateBridge) Terminated(previous stratum.State) {
	b.sup.msgChan <- transportTerminatedMsg{transport: b.transport, previous: previous}
}

// Supervisor owns server selection, the reconnect loop, and the lifecycle of
// a single current ConnectionRun (spec §4.D). All of its mutable state is
// touched only by the run goroutine; external callers interact exclusively
// by sending messages or reading the published current-transport snapshot.
type Supervisor struct {
	cfg supervisorConfig

	conns *connectionListenerRegistry

	msgChan chan interface{}

	startOnce sync.Once
	stopOnce  sync.Once

	current atomic.Value // *stratum.Client, possibly nil-typed via currentTransportBox

	state       SupervisorState
	failed      map[ServerAddress]bool
	lastAddress ServerAddress
	retryFor    time.Duration
	backoff     *expbackoff.ExponentialBackOff
	reconnectT  *time.Timer
	transport   *stratum.Client
	stopped     bool

	stoppedCh chan struct{}

	self *Client // set once by New, before Start; read only by the run goroutine
}

type currentTransportBox struct {
	transport *stratum.Client
}

func newSupervisor(cfg supervisorConfig, conns *connectionListenerRegistry) *Supervisor {
	b := expbackoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	// NewExponentialBackOff already called Reset() against its own default
	// InitialInterval (500ms) before the overrides above took effect; redo
	// it now so currentInterval starts from our 1s, not that stale default.
	b.Reset()
	b.NextBackOff() // prime: discard the 1s reset value, so enterBackoff's
	// first-ever call doubles from 1s to 2s the same as every later entry
	// to Backoff does (spec §4.D doubles unconditionally on every entry,
	// including the very first termination, per the original's terminated()).

	sup := &Supervisor{
		cfg:       cfg,
		conns:     conns,
		msgChan:   make(chan interface{}, 8),
		failed:    make(map[ServerAddress]bool),
		backoff:   b,
		stoppedCh: make(chan struct{}),
	}
	sup.current.Store(currentTransportBox{})
	go sup.run()
	return sup
}

// Start kicks off server selection asynchronously. Idempotent: a second
// Start is a no-op, matching stratum.Client's Start contract.
func (sup *Supervisor) Start() {
	sup.startOnce.Do(func() {
		sup.msgChan <- startMsg{}
	})
}

// Stop tears down any current run and prevents further reconnects. Blocks
// until the supervisor has reached Stopped. Safe to call from any state,
// any number of times.
func (sup *Supervisor) Stop() {
	sup.stopOnce.Do(func() {
		done := make(chan struct{})
		sup.msgChan <- stopMsg{done: done}
		<-done
		close(sup.stoppedCh)
	})
	<-sup.stoppedCh
}

// CurrentTransport returns the transport for the live ConnectionRun, or nil
// if there isn't one. Used by the facade to issue RPCs.
func (sup *Supervisor) CurrentTransport() *stratum.Client {
	return sup.current.Load().(currentTransportBox).transport
}

func (sup *Supervisor) publishCurrent(t *stratum.Client) {
	sup.current.Store(currentTransportBox{transport: t})
}

func (sup *Supervisor) run() {
	for msg := range sup.msgChan {
		switch m := msg.(type) {
		case startMsg:
			sup.onStart()
		case stopMsg:
			sup.onStop()
			close(m.done)
			return
		case transportRunningMsg:
			sup.onTransportRunning(m.transport)
		case transportTerminatedMsg:
			sup.onTransportTerminated(m.transport, m.previous)
		case reconnectFiredMsg:
			sup.onReconnectFired()
		}
	}
}

func (sup *Supervisor) onStart() {
	if sup.stopped || sup.state != Idle {
		return
	}
	sup.enterSelecting()
}

func (sup *Supervisor) onStop() {
	sup.stopped = true
	sup.cancelReconnect()
	if sup.transport != nil {
		sup.transport.Stop()
		sup.transport = nil
		sup.publishCurrent(nil)
	}
	sup.state = Stopped
}

// enterSelecting picks a server and immediately proceeds to Connecting --
// selection has no asynchronous step to wait on (spec §4.D table).
func (sup *Supervisor) enterSelecting() {
	sup.state = Selecting
	addr := sup.selectServer()
	sup.lastAddress = addr
	sup.enterConnecting(addr)
}

func (sup *Supervisor) selectServer() ServerAddress {
	if len(sup.failed) >= len(sup.cfg.addresses) {
		sup.failed = make(map[ServerAddress]bool)
	}
	candidates := make([]ServerAddress, 0, len(sup.cfg.addresses))
	for _, a := range sup.cfg.addresses {
		if !sup.failed[a] {
			candidates = append(candidates, a)
		}
	}
	return candidates[rand.Intn(len(candidates))]
}

func (sup *Supervisor) enterConnecting(addr ServerAddress) {
	sup.state = Connecting

	opts := []stratum.ClientOption{}
	if sup.cfg.dialer != nil {
		opts = append(opts, stratum.WithDialer(sup.cfg.dialer))
	}
	if sup.cfg.timeout > 0 {
		opts = append(opts, stratum.WithTimeout(sup.cfg.timeout))
	}
	if sup.cfg.logger != nil {
		opts = append(opts, stratum.WithLogger(sup.cfg.logger))
	}

	t := stratum.NewClient(addr.String(), opts...)
	sup.transport = t
	t.AddStateListener(&transportStateBridge{sup: sup, transport: t})

	if err := t.Start(); err != nil {
		sup.cfg.logger.Warningf("connecting to %s failed: %s", addr, err)
		// Start dials synchronously and already fired terminate() on
		// failure, which queued our own transportTerminatedMsg; nothing
		// further to do here.
	}
}

func (sup *Supervisor) onTransportRunning(t *stratum.Client) {
	if t != sup.transport {
		return // stale signal from a superseded transport
	}
	sup.state = Connected
	sup.publishCurrent(t)

	sup.backoff.Reset()
	sup.backoff.NextBackOff() // prime: discard the 1s reset value so the
	// first scheduled backoff after the next failure is 2s (spec §4.D,
	// "first retry after a clean run is 2 seconds").
	sup.retryFor = time.Second

	sup.conns.broadcastOnConnection(sup.self)
}

func (sup *Supervisor) onTransportTerminated(t *stratum.Client, previous stratum.State) {
	if t != sup.transport {
		return
	}
	sup.transport = nil
	sup.publishCurrent(nil)

	if sup.stopped {
		return
	}

	sup.enterBackoff()
}

// enterBackoff performs the Backoff state's entry action unconditionally,
// whether the run reached Connected or failed while still Connecting (spec
// §4.D): blacklist the address just tried, notify listeners of the
// disconnect, and schedule the next reconnect attempt.
func (sup *Supervisor) enterBackoff() {
	sup.state = Backoff
	sup.failed[sup.lastAddress] = true
	sup.conns.broadcastOnDisconnect()

	d := sup.backoff.NextBackOff()
	if d > maxBackoff {
		d = maxBackoff
	}
	sup.retryFor = d
	sup.cancelReconnect()
	sup.reconnectT = time.AfterFunc(d, func() {
		sup.msgChan <- reconnectFiredMsg{}
	})
}

func (sup *Supervisor) onReconnectFired() {
	if sup.stopped || sup.state != Backoff {
		return
	}
	sup.enterSelecting()
}

func (sup *Supervisor) cancelReconnect() {
	if sup.reconnectT != nil {
		sup.reconnectT.Stop()
		sup.reconnectT = nil
	}
}
