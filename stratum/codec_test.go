package stratum

import "testing"

func TestDecodeFrameRequest(t *testing.T) {
	f, err := decodeFrame([]byte(`{"id":1,"method":"server.version","params":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.kind != frameRequest {
		t.Fatalf("expected frameRequest, got %v", f.kind)
	}
	if f.req.ID != 1 || f.req.Method != "server.version" {
		t.Fatalf("unexpected request: %+v", f.req)
	}
}

func TestDecodeFrameResponse(t *testing.T) {
	f, err := decodeFrame([]byte(`{"id":7,"result":["1.4"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.kind != frameResponse {
		t.Fatalf("expected frameResponse, got %v", f.kind)
	}
	if f.resp.ID != 7 {
		t.Fatalf("unexpected response id: %d", f.resp.ID)
	}
}

func TestDecodeFrameError(t *testing.T) {
	f, err := decodeFrame([]byte(`{"id":7,"error":"boom"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.kind != frameResponse || len(f.resp.Error) == 0 {
		t.Fatalf("expected error response, got %+v", f)
	}
}

func TestDecodeFrameNotification(t *testing.T) {
	f, err := decodeFrame([]byte(`{"method":"blockchain.address.subscribe","params":["1A1zP1...","deadbeef"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.kind != frameNotification {
		t.Fatalf("expected frameNotification, got %v", f.kind)
	}
	params, err := notificationParams(f.notif)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 2 || params[0] != "1A1zP1..." {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"foo":"bar"}`),
		[]byte(`{"id":1}`),
	}
	for _, c := range cases {
		if _, err := decodeFrame(c); err != ErrMalformedFrame {
			t.Errorf("expected ErrMalformedFrame for %q, got %v", c, err)
		}
	}
}

func TestEncodeRequestTerminatesWithNewline(t *testing.T) {
	line, err := encodeRequest(request{ID: 1, Method: "server.version", Params: nil})
	if err != nil {
		t.Fatal(err)
	}
	if line[len(line)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", line)
	}
}
