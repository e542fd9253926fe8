package stratumcore

import (
	iwallet "github.com/cpacia/wallet-interface"
)

// Transaction is a serialized transaction carried opaquely through the core.
// Hash is supplied by the caller, not computed here: the core never parses
// transaction content, and chain-specific hashing (double-SHA256-reversed
// for Bitcoin-family coins, keccak256 for Ethereum, etc.) belongs to the
// wallet layer that built the transaction in the first place.
type Transaction struct {
	Raw  []byte
	Hash iwallet.TransactionID
}
