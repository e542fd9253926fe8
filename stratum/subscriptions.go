package stratum

import (
	"fmt"
	"sync"

	"github.com/op/go-logging"
)

// SubscriptionHandler is invoked on the transport worker for every
// notification matching a live subscription. Implementations must not block
// (spec §4.B contract) -- hand off to a listener's own executor instead.
type SubscriptionHandler func(params []interface{})

// subKey is the registry key: method plus the subscription's first
// parameter, stringified. Per spec §4.C this is an exact match, not a
// prefix or pattern match.
type subKey struct {
	method string
	param  string
}

// subscriptionRegistry maps (method, first-param) to a handler for the
// lifetime of one run. Subscribe and Unsubscribe write it from the caller's
// goroutine and the read worker looks handlers up in it, so every access is
// guarded by mu. Entries are never removed mid-run except by explicit
// unsubscribe (see design notes on the subscription memory leak flagged in
// the original source).
type subscriptionRegistry struct {
	logger *logging.Logger

	mu   sync.Mutex
	subs map[subKey]SubscriptionHandler
}

func newSubscriptionRegistry(logger *logging.Logger) *subscriptionRegistry {
	return &subscriptionRegistry{
		logger: logger,
		subs:   make(map[subKey]SubscriptionHandler),
	}
}

func (r *subscriptionRegistry) add(method, param string, handler SubscriptionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[subKey{method: method, param: param}] = handler
}

// remove deletes exactly one entry, used by Unsubscribe to avoid the
// accumulate-forever behavior the original source flagged as a memory leak.
func (r *subscriptionRegistry) remove(method, param string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, subKey{method: method, param: param})
}

// dispatch looks up the handler for a notification and invokes it. If no
// subscription matches, the notification is dropped with a warning.
func (r *subscriptionRegistry) dispatch(n notification) {
	params, err := notificationParams(n)
	if err != nil || len(params) == 0 {
		r.logger.Warningf("dropping malformed notification for %s", n.Method)
		return
	}

	key := subKey{method: n.Method, param: fmt.Sprint(params[0])}

	r.mu.Lock()
	handler, ok := r.subs[key]
	r.mu.Unlock()

	if !ok {
		r.logger.Warningf("dropping notification for %s: no matching subscription for %v", n.Method, params[0])
		return
	}
	handler(params)
}

// clear drops every subscription. Called on run termination: subscriptions
// do not survive a reconnect, the caller must re-subscribe (spec §3).
func (r *subscriptionRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[subKey]SubscriptionHandler)
}
