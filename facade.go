package stratumcore

import (
	"encoding/hex"
	"encoding/json"

	iwallet "github.com/cpacia/wallet-interface"

	"github.com/kynelabs/stratumcore/stratum"
)

const (
	methodServerVersion        = "server.version"
	methodAddressSubscribe     = "blockchain.address.subscribe"
	methodAddressListUnspent   = "blockchain.address.listunspent"
	methodAddressGetHistory    = "blockchain.address.get_history"
	methodTransactionGet       = "blockchain.transaction.get"
	methodTransactionBroadcast = "blockchain.transaction.broadcast"
)

// facade translates domain operations into RPC calls against the current
// transport and adapts replies into TransactionEventListener callbacks
// (spec §4.E). It holds no state of its own beyond a handle to the
// supervisor it reads the current transport from.
type facade struct {
	sup *Supervisor
}

func newFacade(sup *Supervisor) *facade {
	return &facade{sup: sup}
}

// currentTransport returns the live transport, or ErrNotConnected if there
// is no current ConnectionRun -- every facade operation is a no-op beyond
// this check when disconnected (spec §8, "ping while disconnected -> no
// RPC issued, no listener invoked").
func (f *facade) currentTransport() (*stratum.Client, error) {
	t := f.sup.CurrentTransport()
	if t == nil {
		return nil, ErrNotConnected
	}
	return t, nil
}

func dispatch(executor Executor, fn func()) {
	if executor == nil {
		fn()
		return
	}
	executor.Submit(fn)
}

// Ping issues server.version and logs the result; no listener is notified
// (spec §4.E table).
func (f *facade) Ping() error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	future := t.Call(methodServerVersion, []interface{}{})
	go func() {
		result, err := future.Receive()
		if err != nil {
			f.sup.cfg.logger.Warningf("ping failed: %s", err)
			return
		}
		var versions []string
		if err := json.Unmarshal(result, &versions); err != nil || len(versions) == 0 {
			f.sup.cfg.logger.Warningf("ping: %s", &DecodeError{Method: methodServerVersion, Err: err})
			return
		}
		f.sup.cfg.logger.Infof("server version: %s", versions[0])
	}()
	return nil
}

// SubscribeToAddresses issues one blockchain.address.subscribe per address,
// sequentially, as spec §4.E.a requires. Both the initial reply and every
// later notification for that address invoke OnAddressStatusUpdate on the
// listener's executor; the listener must treat both as idempotent status
// updates.
func (f *facade) SubscribeToAddresses(addresses []iwallet.Address, listener TransactionEventListener, executor Executor) error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	for _, addr := range addresses {
		f.subscribeOne(t, addr, listener, executor)
	}
	return nil
}

func (f *facade) subscribeOne(t *stratum.Client, addr iwallet.Address, listener TransactionEventListener, executor Executor) {
	// Bind addr by value into this call's own closures, so every
	// subscription's handler and reply callback refer to the address it
	// was issued for and not whatever the loop variable holds by the time
	// a notification arrives (spec §9, "per-call closures").
	address := addr
	handler := func(params []interface{}) {
		status, err := decodeAddressNotification(address, params)
		if err != nil {
			f.sup.cfg.logger.Warningf("dropping address notification: %s", err)
			return
		}
		dispatch(executor, func() { listener.OnAddressStatusUpdate(status) })
	}

	future := t.Subscribe(methodAddressSubscribe, []interface{}{address.String()}, handler)
	go func() {
		result, err := future.Receive()
		if err != nil {
			f.sup.cfg.logger.Warningf("subscribing to %s failed: %s", address, err)
			return
		}
		status, err := decodeAddressStatusResult(address, result)
		if err != nil {
			f.sup.cfg.logger.Warningf("decoding subscribe reply for %s: %s", address, err)
			return
		}
		dispatch(executor, func() { listener.OnAddressStatusUpdate(status) })
	}()
}

// UnsubscribeFromAddresses removes exactly one subscription registry entry
// per address, addressing the per-address accumulation spec.md flags as a
// memory leak in the source. A no-op, not an error, when there is no current
// transport -- the registry it would have removed from no longer exists.
func (f *facade) UnsubscribeFromAddresses(addresses []iwallet.Address) error {
	t, err := f.currentTransport()
	if err == ErrNotConnected {
		return nil
	}
	if err != nil {
		return err
	}
	for _, addr := range addresses {
		t.Unsubscribe(methodAddressSubscribe, addr.String())
	}
	return nil
}

func decodeAddressStatusResult(addr iwallet.Address, raw []byte) (AddressStatus, error) {
	var status *string
	if err := json.Unmarshal(raw, &status); err != nil {
		return AddressStatus{}, &DecodeError{Method: methodAddressSubscribe, Err: err}
	}
	return AddressStatus{Address: addr, Status: status}, nil
}

func decodeAddressNotification(expected iwallet.Address, params []interface{}) (AddressStatus, error) {
	if len(params) != 2 {
		return AddressStatus{}, &DecodeError{Method: methodAddressSubscribe, Err: errShapedParams}
	}
	addrStr, ok := params[0].(string)
	if !ok {
		return AddressStatus{}, &AddressFormatError{Raw: jsonString(params[0])}
	}
	if addrStr != expected.String() {
		return AddressStatus{}, &AddressFormatError{Raw: addrStr}
	}
	var status *string
	if s, ok := params[1].(string); ok {
		status = &s
	}
	return AddressStatus{Address: expected, Status: status}, nil
}

// GetUnspentTx issues blockchain.address.listunspent for address.
func (f *facade) GetUnspentTx(address iwallet.Address, listener TransactionEventListener, executor Executor) error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	future := t.Call(methodAddressListUnspent, []interface{}{address.String()})
	go func() {
		result, err := future.Receive()
		if err != nil {
			f.sup.cfg.logger.Warningf("listunspent for %s failed: %s", address, err)
			return
		}
		utxos, err := decodeUnspentTxList(result)
		if err != nil {
			f.sup.cfg.logger.Warningf("decoding listunspent reply for %s: %s", address, err)
			return
		}
		status := AddressStatus{Address: address}
		dispatch(executor, func() { listener.OnUnspentTransactionUpdate(status, utxos) })
	}()
	return nil
}

// GetHistoryTx issues blockchain.address.get_history for address.
func (f *facade) GetHistoryTx(address iwallet.Address, listener TransactionEventListener, executor Executor) error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	future := t.Call(methodAddressGetHistory, []interface{}{address.String()})
	go func() {
		result, err := future.Receive()
		if err != nil {
			f.sup.cfg.logger.Warningf("get_history for %s failed: %s", address, err)
			return
		}
		history, err := decodeHistoryTxList(result)
		if err != nil {
			f.sup.cfg.logger.Warningf("decoding get_history reply for %s: %s", address, err)
			return
		}
		status := AddressStatus{Address: address}
		dispatch(executor, func() { listener.OnTransactionHistory(status, history) })
	}()
	return nil
}

// GetTransaction issues blockchain.transaction.get for txid.
func (f *facade) GetTransaction(txid iwallet.TransactionID, listener TransactionEventListener, executor Executor) error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	future := t.Call(methodTransactionGet, []interface{}{string(txid)})
	go func() {
		result, err := future.Receive()
		if err != nil {
			f.sup.cfg.logger.Warningf("transaction.get for %s failed: %s", txid, err)
			return
		}
		raw, err := decodeRawTxResult(result)
		if err != nil {
			f.sup.cfg.logger.Warningf("decoding transaction.get reply for %s: %s", txid, err)
			return
		}
		tx := Transaction{Raw: raw, Hash: txid}
		dispatch(executor, func() { listener.OnTransactionUpdate(tx) })
	}()
	return nil
}

func decodeRawTxResult(raw []byte) ([]byte, error) {
	var elems []string
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return nil, &DecodeError{Method: methodTransactionGet, Err: errShapedParams}
	}
	return hex.DecodeString(elems[0])
}

// BroadcastTx issues blockchain.transaction.broadcast for tx, verifying the
// server-returned txid equals tx.Hash. A mismatch is treated as a failed
// broadcast (spec §4.E, hash-equality in place of trusting the
// acknowledgement outright, against transaction malleability).
func (f *facade) BroadcastTx(tx Transaction, listener TransactionEventListener, executor Executor) error {
	t, err := f.currentTransport()
	if err != nil {
		return err
	}
	future := t.Call(methodTransactionBroadcast, []interface{}{hex.EncodeToString(tx.Raw)})
	go func() {
		result, err := future.Receive()
		if err != nil {
			dispatch(executor, func() { listener.OnTransactionBroadcastError(tx, err) })
			return
		}
		returnedTxid, err := decodeBroadcastResult(result)
		if err != nil {
			dispatch(executor, func() { listener.OnTransactionBroadcastError(tx, err) })
			return
		}
		if returnedTxid != string(tx.Hash) {
			mismatch := &BroadcastMismatchError{Submitted: string(tx.Hash), Returned: returnedTxid}
			dispatch(executor, func() { listener.OnTransactionBroadcastError(tx, mismatch) })
			return
		}
		dispatch(executor, func() { listener.OnTransactionBroadcast(tx) })
	}()
	return nil
}

func decodeBroadcastResult(raw []byte) (string, error) {
	var elems []string
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return "", &DecodeError{Method: methodTransactionBroadcast, Err: errShapedParams}
	}
	return elems[0], nil
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// errShapedParams is the Err value DecodeError wraps when a reply parsed as
// valid JSON but didn't match the array shape a given RPC method promises.
var errShapedParams = jsonShapeError{}

type jsonShapeError struct{}

func (jsonShapeError) Error() string { return "reply did not match the expected shape" }
