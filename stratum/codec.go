package stratum

import (
	"encoding/json"
)

// request is a client-initiated message. id is assigned by the transport,
// monotonically increasing per connection.
type request struct {
	ID     int64         `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// response is a server reply to a request, matched back to the pending call
// by id. Exactly one of Result/Error is populated.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// notification is a server-initiated message with no id.
type notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// frameKind discriminates a decoded line by the shape described in spec §4.A:
// presence of id together with either method (request) or result/error
// (response); absence of id with a method (notification).
type frameKind int

const (
	frameRequest frameKind = iota
	frameResponse
	frameNotification
)

type frame struct {
	kind   frameKind
	req    request
	resp   response
	notif  notification
}

// rawFrame mirrors every possible top-level field so the discriminator can be
// computed before committing to one of the three concrete shapes.
type rawFrame struct {
	ID     *int64          `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// decodeFrame parses one newline-delimited JSON message into its shape, or
// fails with ErrMalformedFrame if the line is not valid JSON or matches none
// of the three documented shapes.
func decodeFrame(line []byte) (frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(line, &raw); err != nil {
		return frame{}, ErrMalformedFrame
	}

	hasResult := len(raw.Result) > 0
	hasError := len(raw.Error) > 0

	switch {
	case raw.ID != nil && raw.Method != nil:
		var params []interface{}
		if len(raw.Params) > 0 {
			if err := json.Unmarshal(raw.Params, &params); err != nil {
				return frame{}, ErrMalformedFrame
			}
		}
		return frame{kind: frameRequest, req: request{ID: *raw.ID, Method: *raw.Method, Params: params}}, nil

	case raw.ID != nil && (hasResult || hasError):
		return frame{kind: frameResponse, resp: response{ID: *raw.ID, Result: raw.Result, Error: raw.Error}}, nil

	case raw.ID == nil && raw.Method != nil:
		return frame{kind: frameNotification, notif: notification{Method: *raw.Method, Params: raw.Params}}, nil

	default:
		return frame{}, ErrMalformedFrame
	}
}

// encodeRequest serializes a request as a single newline-terminated JSON line.
func encodeRequest(r request) ([]byte, error) {
	if r.Params == nil {
		r.Params = []interface{}{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// notificationParams decodes a notification's params array, used by the
// subscription registry to match on the first element and by handlers to
// read the rest.
func notificationParams(n notification) ([]interface{}, error) {
	if len(n.Params) == 0 {
		return nil, nil
	}
	var params []interface{}
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return nil, ErrMalformedFrame
	}
	return params, nil
}
