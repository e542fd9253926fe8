package stratumcore

import (
	"sync"
	"sync/atomic"
)

// ConnectionEventListener observes the supervisor's connect/disconnect
// transitions (spec §4.F).
type ConnectionEventListener interface {
	OnConnection(c *Client)
	OnDisconnect()
}

// TransactionEventListener observes the results of one facade call. A
// listener is passed per call, not registered globally (spec §4.E).
type TransactionEventListener interface {
	OnAddressStatusUpdate(status AddressStatus)
	OnUnspentTransactionUpdate(status AddressStatus, utxos []UnspentTx)
	OnTransactionHistory(status AddressStatus, history []HistoryTx)
	OnTransactionUpdate(tx Transaction)
	OnTransactionBroadcast(tx Transaction)
	OnTransactionBroadcastError(tx Transaction, err error)
}

// Executor runs listener callbacks. The default, SequentialExecutor, runs
// them one at a time in submission order on its own goroutine; callers may
// supply their own (e.g. backed by a worker pool) so long as it preserves
// per-executor ordering (spec §5).
type Executor interface {
	Submit(fn func())
}

// SequentialExecutor is a single-threaded executor with a bounded queue: the
// "single-threaded sequenced dispatcher" spec §4.F specifies as the default.
// The queue holds 64 pending jobs; once it is full, Submit blocks the
// submitter until the worker takes the next job.
type SequentialExecutor struct {
	once sync.Once
	jobs chan func()
}

// NewSequentialExecutor returns a ready-to-use SequentialExecutor. Its worker
// goroutine runs for the lifetime of the process; there is no Stop, matching
// the teacher's fire-and-forget goroutine lifecycles for per-listener work.
func NewSequentialExecutor() *SequentialExecutor {
	e := &SequentialExecutor{jobs: make(chan func(), 64)}
	go e.run()
	return e
}

func (e *SequentialExecutor) run() {
	for fn := range e.jobs {
		fn()
	}
}

// Submit enqueues fn to run after every previously submitted fn on this
// executor has returned. It blocks while 64 jobs are already waiting.
func (e *SequentialExecutor) Submit(fn func()) {
	e.jobs <- fn
}

type connectionRegistration struct {
	listener ConnectionEventListener
	executor Executor
}

// connectionListenerRegistry is a copy-on-write snapshot of connection
// listeners: adds/removes rewrite an atomically-published slice rather than
// locking around iteration, so a broadcast in progress never observes a
// partial mutation (spec §9 "Observer registration under concurrent
// dispatch").
type connectionListenerRegistry struct {
	mu   sync.Mutex // guards read-modify-write of the published snapshot
	snap atomic.Value
}

func newConnectionListenerRegistry() *connectionListenerRegistry {
	r := &connectionListenerRegistry{}
	r.snap.Store([]connectionRegistration(nil))
	return r
}

func (r *connectionListenerRegistry) load() []connectionRegistration {
	return r.snap.Load().([]connectionRegistration)
}

// Add registers listener with executor. If listener is already registered,
// its executor is replaced.
func (r *connectionListenerRegistry) Add(listener ConnectionEventListener, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	next := make([]connectionRegistration, 0, len(cur)+1)
	for _, reg := range cur {
		if reg.listener == listener {
			continue
		}
		next = append(next, reg)
	}
	next = append(next, connectionRegistration{listener: listener, executor: executor})
	r.snap.Store(next)
}

// Remove drops listener, returning the registry to its prior state if it
// was never added.
func (r *connectionListenerRegistry) Remove(listener ConnectionEventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	next := make([]connectionRegistration, 0, len(cur))
	for _, reg := range cur {
		if reg.listener != listener {
			next = append(next, reg)
		}
	}
	r.snap.Store(next)
}

// broadcastOnConnection submits OnConnection(c) to every listener registered
// at the moment of the call, on each listener's own executor.
func (r *connectionListenerRegistry) broadcastOnConnection(c *Client) {
	for _, reg := range r.load() {
		l := reg.listener
		reg.executor.Submit(func() { l.OnConnection(c) })
	}
}

// broadcastOnDisconnect submits OnDisconnect() to every listener registered
// at the moment of the call, on each listener's own executor.
func (r *connectionListenerRegistry) broadcastOnDisconnect() {
	for _, reg := range r.load() {
		l := reg.listener
		reg.executor.Submit(l.OnDisconnect)
	}
}
