package stratumcore

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcutil"
)

func TestUnspentTxJSONRoundTrips(t *testing.T) {
	raw := []byte(`{"tx_hash":"aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11","tx_pos":1,"value":1000,"height":100}`)

	var u UnspentTx
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatal(err)
	}

	out, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}

	var roundTripped UnspentTx
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatal(err)
	}

	if !u.Equal(roundTripped) {
		t.Fatalf("round trip did not preserve equality: %+v != %+v", u, roundTripped)
	}
	if roundTripped.Height != 100 {
		t.Fatalf("unexpected height: %d", roundTripped.Height)
	}
}

func TestDecodeUnspentTxList(t *testing.T) {
	raw := []byte(`[{"tx_hash":"aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11","tx_pos":1,"value":1000,"height":100}]`)

	utxos, err := decodeUnspentTxList(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(utxos) != 1 {
		t.Fatalf("expected 1 utxo, got %d", len(utxos))
	}
	if utxos[0].Value != btcutil.Amount(1000) || utxos[0].TxPos != 1 || utxos[0].Height != 100 {
		t.Fatalf("unexpected decode: %+v", utxos[0])
	}
}

func TestDecodeHistoryTxList(t *testing.T) {
	raw := []byte(`[{"tx_hash":"aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11","height":0}]`)

	history, err := decodeHistoryTxList(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Height != 0 {
		t.Fatalf("unexpected decode: %+v", history)
	}
}

func TestDecodeUnspentTxListRejectsMalformedHash(t *testing.T) {
	raw := []byte(`[{"tx_hash":"not-hex","tx_pos":0,"value":0,"height":0}]`)
	if _, err := decodeUnspentTxList(raw); err == nil {
		t.Fatal("expected an error for a malformed tx_hash")
	}
}
