package stratum

import (
	"encoding/json"
	"testing"

	"github.com/op/go-logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	l, err := logging.GetLogger("stratum-test")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestSubscriptionRegistryExactMatch(t *testing.T) {
	r := newSubscriptionRegistry(newTestLogger(t))

	var got []interface{}
	r.add("blockchain.address.subscribe", "addrA", func(params []interface{}) {
		got = params
	})

	params, _ := json.Marshal([]interface{}{"addrA", "deadbeef"})
	r.dispatch(notification{Method: "blockchain.address.subscribe", Params: params})

	if got == nil || got[0] != "addrA" || got[1] != "deadbeef" {
		t.Fatalf("handler not invoked with expected params: %v", got)
	}
}

func TestSubscriptionRegistryNoMatchIsDropped(t *testing.T) {
	r := newSubscriptionRegistry(newTestLogger(t))

	called := false
	r.add("blockchain.address.subscribe", "addrA", func(params []interface{}) {
		called = true
	})

	params, _ := json.Marshal([]interface{}{"addrB", "deadbeef"})
	r.dispatch(notification{Method: "blockchain.address.subscribe", Params: params})

	if called {
		t.Fatal("handler for unrelated address should not have been invoked")
	}
}

func TestSubscriptionRegistryRemove(t *testing.T) {
	r := newSubscriptionRegistry(newTestLogger(t))
	r.add("blockchain.address.subscribe", "addrA", func(params []interface{}) {})
	r.remove("blockchain.address.subscribe", "addrA")

	if _, ok := r.subs[subKey{method: "blockchain.address.subscribe", param: "addrA"}]; ok {
		t.Fatal("expected subscription to be removed")
	}
}

func TestSubscriptionRegistryClear(t *testing.T) {
	r := newSubscriptionRegistry(newTestLogger(t))
	r.add("blockchain.address.subscribe", "addrA", func(params []interface{}) {})
	r.add("blockchain.address.subscribe", "addrB", func(params []interface{}) {})
	r.clear()

	if len(r.subs) != 0 {
		t.Fatalf("expected empty registry after clear, got %d entries", len(r.subs))
	}
}
