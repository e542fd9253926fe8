package stratumcore

import (
	iwallet "github.com/cpacia/wallet-interface"
)

// Client is the durable, self-healing connection to one of several
// interchangeable Electrum-style backends for a single CoinType (spec §1).
// It owns the connection supervisor, the listener registries, and the
// blockchain API facade built on top of whichever transport the supervisor
// currently has connected.
type Client struct {
	coin CoinAddress

	sup    *Supervisor
	conns  *connectionListenerRegistry
	facade *facade
}

// New constructs a Client for coin, applying Defaults then opts in order
// (spec §6 "Construction input"). The connection is not attempted until
// Start is called.
func New(coin CoinAddress, opts ...Option) (*Client, error) {
	var cfg Config
	if err := cfg.Apply(append([]Option{Defaults}, opts...)...); err != nil {
		return nil, err
	}

	logger := buildLogger(&cfg)
	conns := newConnectionListenerRegistry()

	sup := newSupervisor(supervisorConfig{
		addresses: coin.Addresses,
		logger:    logger,
		dialer:    cfg.Dialer,
		timeout:   cfg.Timeout,
	}, conns)

	c := &Client{
		coin:   coin,
		sup:    sup,
		conns:  conns,
		facade: newFacade(sup),
	}
	sup.self = c
	return c, nil
}

// CoinType returns the chain this Client speaks for.
func (c *Client) CoinType() iwallet.CoinType {
	return c.coin.Type
}

// Start begins server selection and connection. Idempotent; non-blocking.
func (c *Client) Start() {
	c.sup.Start()
}

// Stop tears down the current run, cancels any pending reconnect, and
// prevents further runs. Idempotent; blocks until fully stopped.
func (c *Client) Stop() {
	c.sup.Stop()
}

// AddConnectionEventListener registers listener to receive OnConnection and
// OnDisconnect callbacks on executor. Safe to call while a broadcast is in
// progress (spec §9).
func (c *Client) AddConnectionEventListener(listener ConnectionEventListener, executor Executor) {
	c.conns.Add(listener, executor)
}

// RemoveConnectionEventListener drops listener. Returns the registry to its
// prior state if listener was never added (spec §8 idempotence property).
func (c *Client) RemoveConnectionEventListener(listener ConnectionEventListener) {
	c.conns.Remove(listener)
}

// SubscribeToAddresses issues blockchain.address.subscribe for each address
// in order. See facade.SubscribeToAddresses for delivery semantics.
func (c *Client) SubscribeToAddresses(addresses []iwallet.Address, listener TransactionEventListener, executor Executor) error {
	return c.facade.SubscribeToAddresses(addresses, listener, executor)
}

// UnsubscribeFromAddresses removes each address's subscription registry
// entry on the current transport, so later status notifications for it are
// dropped instead of reaching a listener. No unsubscribe request is sent to
// the server. A no-op while disconnected.
func (c *Client) UnsubscribeFromAddresses(addresses []iwallet.Address) error {
	return c.facade.UnsubscribeFromAddresses(addresses)
}

// GetUnspentTx issues blockchain.address.listunspent for address.
func (c *Client) GetUnspentTx(address iwallet.Address, listener TransactionEventListener, executor Executor) error {
	return c.facade.GetUnspentTx(address, listener, executor)
}

// GetHistoryTx issues blockchain.address.get_history for address.
func (c *Client) GetHistoryTx(address iwallet.Address, listener TransactionEventListener, executor Executor) error {
	return c.facade.GetHistoryTx(address, listener, executor)
}

// GetTransaction issues blockchain.transaction.get for txid.
func (c *Client) GetTransaction(txid iwallet.TransactionID, listener TransactionEventListener, executor Executor) error {
	return c.facade.GetTransaction(txid, listener, executor)
}

// BroadcastTx issues blockchain.transaction.broadcast for tx.
func (c *Client) BroadcastTx(tx Transaction, listener TransactionEventListener, executor Executor) error {
	return c.facade.BroadcastTx(tx, listener, executor)
}

// Ping issues server.version as a liveness check; the result is logged, not
// delivered to any listener.
func (c *Client) Ping() error {
	return c.facade.Ping()
}
