package stratumcore

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func testSupervisorLogger(t *testing.T) *logging.Logger {
	l, err := logging.GetLogger("stratumcore-test")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestSelectServerClearsExhaustedBlacklist(t *testing.T) {
	addr := ServerAddress{Host: "a", Port: 1}
	sup := &Supervisor{
		cfg:    supervisorConfig{addresses: []ServerAddress{addr}},
		failed: map[ServerAddress]bool{addr: true},
	}

	got := sup.selectServer()
	if got != addr {
		t.Fatalf("unexpected selection: %v", got)
	}
	if len(sup.failed) != 0 {
		t.Fatal("expected blacklist to be cleared once every address has failed")
	}
}

func TestSelectServerPrefersNonBlacklisted(t *testing.T) {
	good := ServerAddress{Host: "good", Port: 1}
	bad := ServerAddress{Host: "bad", Port: 2}
	sup := &Supervisor{
		cfg:    supervisorConfig{addresses: []ServerAddress{good, bad}},
		failed: map[ServerAddress]bool{bad: true},
	}

	for i := 0; i < 10; i++ {
		if got := sup.selectServer(); got != good {
			t.Fatalf("expected only the non-blacklisted address to be selected, got %v", got)
		}
	}
}

// acceptAndDrain accepts connections on ln forever, discarding all input,
// until the listener is closed.
func acceptAndDrain(ln net.Listener, track func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if track != nil {
			track(conn)
		}
		go func(c net.Conn) {
			buf := make([]byte, 1024)
			for {
				if _, err := c.Read(buf); err != nil {
					return
				}
			}
		}(conn)
	}
}

func TestSupervisorConnectsAndBroadcastsOnConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go acceptAndDrain(ln, nil)

	coin := CoinAddress{Addresses: []ServerAddress{{Host: "ignored", Port: 1}}}
	c, err := New(coin, Dialer(func(string) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}))
	if err != nil {
		t.Fatal(err)
	}

	l := newRecordingConnListener()
	c.AddConnectionEventListener(l, NewSequentialExecutor())
	c.Start()
	defer c.Stop()

	select {
	case got := <-l.connected:
		if got != c {
			t.Fatal("expected OnConnection to be called with this Client")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnection")
	}
}

func TestSupervisorReconnectsAfterDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var mu sync.Mutex
	var conns []net.Conn
	go acceptAndDrain(ln, func(c net.Conn) {
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
	})

	coin := CoinAddress{Addresses: []ServerAddress{{Host: "ignored", Port: 1}}}
	c, err := New(coin, Dialer(func(string) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}))
	if err != nil {
		t.Fatal(err)
	}

	l := newRecordingConnListener()
	c.AddConnectionEventListener(l, NewSequentialExecutor())
	c.Start()
	defer c.Stop()

	select {
	case <-l.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial connection")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		if len(conns) > 0 {
			conns[0].Close()
			mu.Unlock()
			break
		}
		mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for server to accept connection")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-l.disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnDisconnect")
	}

	select {
	case <-l.connected:
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}
}

// TestSupervisorFirstBackoffAfterImmediateFailureIsTwoSeconds covers the
// path TestSupervisorReconnectsAfterDisconnect doesn't: a connection that
// never succeeds even once. enterBackoff doubles the retry delay
// unconditionally on every entry, including the very first, so the first-ever
// scheduled retry must be 2s -- not 1s from an unprimed backoff, and not the
// stale 500ms expbackoff.NewExponentialBackOff resets to before
// newSupervisor's overrides take effect.
func TestSupervisorFirstBackoffAfterImmediateFailureIsTwoSeconds(t *testing.T) {
	var attempts int64
	var firstAttempt, secondAttempt time.Time

	coin := CoinAddress{Addresses: []ServerAddress{{Host: "ignored", Port: 1}}}
	c, err := New(coin, Dialer(func(string) (net.Conn, error) {
		n := atomic.AddInt64(&attempts, 1)
		now := time.Now()
		switch n {
		case 1:
			firstAttempt = now
		case 2:
			secondAttempt = now
		}
		return nil, net.UnknownNetworkError("always fails")
	}))
	if err != nil {
		t.Fatal(err)
	}

	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(4 * time.Second)
	for atomic.LoadInt64(&attempts) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt64(&attempts) < 2 {
		t.Fatal("timed out waiting for a second connection attempt")
	}

	delay := secondAttempt.Sub(firstAttempt)
	if delay < 1800*time.Millisecond || delay > 2900*time.Millisecond {
		t.Fatalf("expected the first reconnect delay to be ~2s, got %s", delay)
	}
}

func TestSupervisorStopIsIdempotentAndRejectsFurtherStart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go acceptAndDrain(ln, nil)

	coin := CoinAddress{Addresses: []ServerAddress{{Host: "ignored", Port: 1}}}
	c, err := New(coin, Dialer(func(string) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}))
	if err != nil {
		t.Fatal(err)
	}

	l := newRecordingConnListener()
	c.AddConnectionEventListener(l, NewSequentialExecutor())
	c.Start()

	select {
	case <-l.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial connection")
	}

	c.Stop()
	c.Stop()

	if c.sup.state != Stopped {
		t.Fatalf("expected Stopped, got %s", c.sup.state)
	}

	// Start after Stop must not resurrect the supervisor.
	c.Start()
	select {
	case <-l.connected:
		t.Fatal("did not expect a reconnection after Stop")
	case <-time.After(200 * time.Millisecond):
	}
}
