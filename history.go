package stratumcore

import (
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
)

// HistoryTx is one entry of blockchain.address.get_history: a transaction
// hash and the height it was confirmed at. Height may be 0 (mempool, no
// unconfirmed parents) or negative (mempool, has unconfirmed parents), per
// the backend's convention (spec §3).
type HistoryTx struct {
	TxHash chainhash.Hash
	Height int64
}

// UnspentTx is one entry of blockchain.address.listunspent: a HistoryTx plus
// its output index and value in base units.
type UnspentTx struct {
	HistoryTx
	TxPos int
	Value btcutil.Amount
}

// Equal compares two UnspentTx by (TxHash, TxPos, Value), per spec §3 --
// height is deliberately excluded, since it can legitimately change between
// two observations of the same unspent output without the output itself
// being a different one.
func (u UnspentTx) Equal(o UnspentTx) bool {
	return u.TxHash == o.TxHash && u.TxPos == o.TxPos && u.Value == o.Value
}

type wireHistoryTx struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

type wireUnspentTx struct {
	TxHash string `json:"tx_hash"`
	TxPos  int    `json:"tx_pos"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

func decodeHistoryTxList(raw []byte) ([]HistoryTx, error) {
	var wire []wireHistoryTx
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &DecodeError{Method: "blockchain.address.get_history", Err: err}
	}
	out := make([]HistoryTx, 0, len(wire))
	for _, w := range wire {
		h, err := chainhash.NewHashFromStr(w.TxHash)
		if err != nil {
			return nil, &DecodeError{Method: "blockchain.address.get_history", Err: err}
		}
		out = append(out, HistoryTx{TxHash: *h, Height: w.Height})
	}
	return out, nil
}

func decodeUnspentTxList(raw []byte) ([]UnspentTx, error) {
	var wire []wireUnspentTx
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &DecodeError{Method: "blockchain.address.listunspent", Err: err}
	}
	out := make([]UnspentTx, 0, len(wire))
	for _, w := range wire {
		h, err := chainhash.NewHashFromStr(w.TxHash)
		if err != nil {
			return nil, &DecodeError{Method: "blockchain.address.listunspent", Err: err}
		}
		out = append(out, UnspentTx{
			HistoryTx: HistoryTx{TxHash: *h, Height: w.Height},
			TxPos:     w.TxPos,
			Value:     btcutil.Amount(w.Value),
		})
	}
	return out, nil
}

// MarshalJSON renders an UnspentTx back into the same shape the server sent
// it in, so parse-then-reserialize round-trips (spec §8).
func (u UnspentTx) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireUnspentTx{
		TxHash: u.TxHash.String(),
		TxPos:  u.TxPos,
		Value:  int64(u.Value),
		Height: u.Height,
	})
}

// UnmarshalJSON parses the wire shape of a single listunspent entry.
func (u *UnspentTx) UnmarshalJSON(data []byte) error {
	var w wireUnspentTx
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	h, err := chainhash.NewHashFromStr(w.TxHash)
	if err != nil {
		return err
	}
	u.TxHash = *h
	u.TxPos = w.TxPos
	u.Value = btcutil.Amount(w.Value)
	u.Height = w.Height
	return nil
}
