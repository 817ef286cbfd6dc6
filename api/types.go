// Package api defines the wire message shapes for the six Apteryx RPC
// methods, one file per operation family. Encoding is pluggable (see
// internal/transport); this package only fixes field shapes and JSON tags,
// since JSON is the default codec.
package api

// OKResponse is the uniform acknowledgement for methods that return nothing
// but success/failure: set, prune, watch, provide.
type OKResponse struct {
	// OK is always true on a successful response; failures are carried by
	// the transport as an error, never as OK:false.
	OK bool `json:"ok"`
}
