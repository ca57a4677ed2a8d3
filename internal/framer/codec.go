package framer

import (
	"bytes"
	"encoding/base64"
)

// Codec converts between the link's wire envelope and plain bytes.
type Codec interface {
	Decode(chunk []byte) ([]byte, error)
	Encode(plain []byte) []byte
}

// Raw passes bytes through unchanged (serial and BLE links).
var Raw Codec = rawCodec{}

// Base64 unwraps the text-safe envelope used by the MQTT gateway.
var Base64 Codec = base64Codec{}

type rawCodec struct{}

func (rawCodec) Decode(chunk []byte) ([]byte, error) { return chunk, nil }
func (rawCodec) Encode(plain []byte) []byte          { return plain }

type base64Codec struct{}

// Decode accepts padded and unpadded input and ignores surrounding
// whitespace, the way the gateway's producers vary.
func (base64Codec) Decode(chunk []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(chunk)
	if len(trimmed) == 0 {
		return nil, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(out, trimmed)
	if err == nil {
		return out[:n], nil
	}
	unpadded := bytes.TrimRight(trimmed, "=")
	out = make([]byte, base64.RawStdEncoding.DecodedLen(len(unpadded)))
	n, err = base64.RawStdEncoding.Decode(out, unpadded)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func (base64Codec) Encode(plain []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(plain)))
	base64.StdEncoding.Encode(out, plain)
	return out
}
