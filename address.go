package stratumcore

import (
	"fmt"
	"net"
	"strconv"

	iwallet "github.com/cpacia/wallet-interface"
)

// ServerAddress is one backend's host and port. The set of ServerAddresses a
// Client is constructed with is fixed for its lifetime; order is irrelevant
// (spec §3).
type ServerAddress struct {
	Host string
	Port int
}

// String renders the address in host:port form, suitable for net.Dial.
func (a ServerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// CoinAddress is the construction input: the coin this Client speaks for,
// and the set of interchangeable backend servers for it (spec §6). CoinType
// and Address reuse the wallet layer's own opaque address/chain vocabulary
// (github.com/cpacia/wallet-interface) -- the core reads a CoinType only for
// its name (logs) and otherwise carries both values through untouched.
type CoinAddress struct {
	Type      iwallet.CoinType
	Addresses []ServerAddress
}

// AddressStatus pairs an address with the server's opaque fingerprint of its
// transaction history. A nil Status means "no history yet".
type AddressStatus struct {
	Address iwallet.Address
	Status  *string
}

// Equal compares two statuses for the same address: true iff both have no
// status, or both have the same status string (spec §3).
func (a AddressStatus) Equal(o AddressStatus) bool {
	if a.Address != o.Address {
		return false
	}
	if a.Status == nil || o.Status == nil {
		return a.Status == nil && o.Status == nil
	}
	return *a.Status == *o.Status
}

func (a AddressStatus) String() string {
	if a.Status == nil {
		return fmt.Sprintf("%s: <no history>", a.Address)
	}
	return fmt.Sprintf("%s: %s", a.Address, *a.Status)
}
