// Package transport implements the bidirectional RPC boundary between an
// Apteryx daemon and its client processes: an HTTP server listening on a
// Unix domain socket on each side, a matching client that dials one, and a
// pluggable wire codec.
package transport

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec converts request/response values to and from wire bytes. JSON is
// the default; gob is offered as a lower-overhead alternative for
// same-host same-version daemon/client pairs, mirroring how the daemon this
// package is modeled on lets operators pick between a couple of interchangeable
// marshalers for the same wire shapes.
type Codec interface {
	Name() string
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Known codec names, selectable via Config.Codec.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
)

// Select returns the named codec, defaulting to JSON for an empty name.
func Select(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecGob:
		return gobCodec{}, nil
	default:
		return nil, fmt.Errorf("transport: unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return CodecJSON }
func (jsonCodec) ContentType() string { return "application/json" }
func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type gobCodec struct{}

func (gobCodec) Name() string        { return CodecGob }
func (gobCodec) ContentType() string { return "application/x-gob" }
func (gobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func (gobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
