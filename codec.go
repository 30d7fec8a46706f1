package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire representation a Peer uses for outbound
// envelopes. The receive side always auto-detects per message,
// independent of this setting (see DetectAndDecode).
type Encoding int

const (
	// EncodingMessagePack is the default send encoding.
	EncodingMessagePack Encoding = iota
	EncodingJSON
)

func (e Encoding) String() string {
	if e == EncodingJSON {
		return "json"
	}
	return "msgpack"
}

// Envelope is the JSON-RPC 2.0 message shape shared by requests,
// responses, and notifications. Params and Result are carried as `any`
// rather than raw bytes so a single struct can round-trip through
// either the JSON or the MessagePack codec.
type Envelope struct {
	JSONRPC string        `json:"jsonrpc" msgpack:"jsonrpc"`
	ID      *uint64       `json:"id,omitempty" msgpack:"id,omitempty"`
	Method  string        `json:"method,omitempty" msgpack:"method,omitempty"`
	Params  any           `json:"params,omitempty" msgpack:"params,omitempty"`
	Result  any           `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   *RequestError `json:"error,omitempty" msgpack:"error,omitempty"`
}

// IsRequest reports whether env carries both an id and a method.
func (env Envelope) IsRequest() bool { return env.ID != nil && env.Method != "" }

// IsResponse reports whether env carries an id and no method.
func (env Envelope) IsResponse() bool { return env.ID != nil && env.Method == "" }

// IsNotification reports whether env carries a method and no id.
func (env Envelope) IsNotification() bool { return env.ID == nil && env.Method != "" }

// Codec encodes and decodes Envelope values to and from one wire
// representation.
type Codec interface {
	Encoding() Encoding
	Encode(Envelope) ([]byte, error)
	Decode(payload []byte) (Envelope, error)
}

type jsonCodec struct{}

func (jsonCodec) Encoding() Encoding { return EncodingJSON }

func (jsonCodec) Encode(env Envelope) ([]byte, error) {
	env.JSONRPC = "2.0"
	return json.Marshal(env)
}

func (jsonCodec) Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("jsonCodec: %w", err)
	}
	return env, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Encoding() Encoding { return EncodingMessagePack }

func (msgpackCodec) Encode(env Envelope) ([]byte, error) {
	env.JSONRPC = "2.0"
	return msgpack.Marshal(env)
}

func (msgpackCodec) Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("msgpackCodec: %w", err)
	}
	env.Params = normalizeMsgpackNumbers(env.Params)
	env.Result = normalizeMsgpackNumbers(env.Result)
	if env.Error != nil {
		env.Error.Data = normalizeMsgpackNumbers(env.Error.Data)
	}
	return env, nil
}

// normalizeMsgpackNumbers widens every decoded numeric leaf in v to the
// narrowest lossless common type for its sign/kind (int64 for signed
// integers, uint64 for unsigned, float64 for floats). msgpack picks the
// smallest wire representation that fits a value (a 1 encodes as a
// fixint, decoded as int8; a 1000 decodes as int16, and so on), so
// without this step decode(encode(v)) for an `any`-typed field would
// not reliably equal v even when v round-trips through the same codec
// that produced it. json.Unmarshal has no equivalent problem — it
// always decodes numbers into float64 — so this normalization is
// msgpack-specific.
func normalizeMsgpackNumbers(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeMsgpackNumbers(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeMsgpackNumbers(e)
		}
		return out
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint8:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint32:
		return uint64(t)
	case uint:
		return uint64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// JSONCodec and MessagePackCodec are the two stock Codec
// implementations. Both are stateless and safe for concurrent use.
var (
	JSONCodec        Codec = jsonCodec{}
	MessagePackCodec Codec = msgpackCodec{}
)

// looksLikeJSON applies the spec's auto-detection rule: a string (or
// byte slice) is treated as JSON text when its first non-whitespace
// byte is '{'; everything else is treated as MessagePack.
func looksLikeJSON(b []byte) bool {
	trimmed := strings.TrimLeft(string(b), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

// DetectAndDecode decodes a raw inbound payload into an Envelope,
// auto-detecting JSON text vs. MessagePack bytes. An already-decoded
// Envelope is passed through unchanged, for transports that deliver
// parsed objects instead of raw bytes.
func DetectAndDecode(raw any) (Envelope, error) {
	switch v := raw.(type) {
	case Envelope:
		return v, nil
	case *Envelope:
		return *v, nil
	case string:
		return decodeBytes([]byte(v))
	case []byte:
		return decodeBytes(v)
	default:
		return Envelope{}, fmt.Errorf("rpc: unsupported payload type %T", raw)
	}
}

func decodeBytes(b []byte) (Envelope, error) {
	if looksLikeJSON(b) {
		return JSONCodec.Decode(b)
	}
	return MessagePackCodec.Decode(b)
}

// codecFor returns the stock Codec matching enc.
func codecFor(enc Encoding) Codec {
	if enc == EncodingJSON {
		return JSONCodec
	}
	return MessagePackCodec
}
