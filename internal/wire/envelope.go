package wire

import "encoding/json"

// RequestType identifies the kind of an incoming or outgoing request. The
// numeric values are part of the wire contract and must not be renumbered.
type RequestType uint32

const (
	RequestCreateAccount RequestType = 1000
	RequestLogin         RequestType = 1100
	RequestLogout        RequestType = 1200
	RequestConfig        RequestType = 2000
	RequestFindContact   RequestType = 3000
	RequestAddContact    RequestType = 3100
	RequestCreateAddCode RequestType = 3200
	RequestAcceptContact RequestType = 3300
	RequestRejectContact RequestType = 3400
	RequestContactStatus RequestType = 3500
	RequestPush          RequestType = 4100
	RequestDispatch      RequestType = 5000
)

// RequestEnvelope is the object a packet's body encodes for KindRequest
// packets, decoded with json.Unmarshal into the fields every handler needs
// plus an opaque raw payload for type-specific fields.
type RequestEnvelope struct {
	RequestID   uint32          `json:"requestId"`
	RequestType RequestType     `json:"requestType"`
	Payload     json.RawMessage `json:"-"`
}

// ResponseEnvelope is the object a packet's body encodes for KindResponse
// packets.
type ResponseEnvelope struct {
	RequestID uint32          `json:"requestId"`
	Status    uint32          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"-"`
}

const (
	StatusFailure uint32 = 0
	StatusSuccess uint32 = 1
)

// DecodeRequest parses a request packet body. The envelope fields are lifted
// out by a first unmarshal pass; Payload retains the full body so handlers
// can further unmarshal their own type-specific fields from it.
func DecodeRequest(body []byte) (RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RequestEnvelope{}, &MalformedBodyError{Err: err}
	}
	env.Payload = body
	return env, nil
}

// DecodeResponse parses a response packet body.
func DecodeResponse(body []byte) (ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ResponseEnvelope{}, &MalformedBodyError{Err: err}
	}
	env.Payload = body
	return env, nil
}

// EncodeRequest marshals requestId/requestType plus caller-supplied fields
// into one flat JSON object body.
func EncodeRequest(requestID uint32, requestType RequestType, fields map[string]any) ([]byte, error) {
	merged := map[string]any{"requestId": requestID, "requestType": requestType}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// EncodeResponse marshals requestId/status(/error) plus caller-supplied
// fields into one flat JSON object body.
func EncodeResponse(requestID uint32, status uint32, errMsg string, fields map[string]any) ([]byte, error) {
	merged := map[string]any{"requestId": requestID, "status": status}
	if errMsg != "" {
		merged["error"] = errMsg
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// MalformedBodyError reports a request/response body that failed to decode
// as the expected JSON object.
type MalformedBodyError struct {
	Err error
}

func (e *MalformedBodyError) Error() string {
	return "malformed request body: " + e.Err.Error()
}

func (e *MalformedBodyError) Unwrap() error { return e.Err }
