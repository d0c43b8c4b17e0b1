// Package wire implements the byte-level framing primitives of the rsync
// daemon protocol: length- and delimiter-based token reads, the little-
// endian integer helpers the wire actually uses, the multiplex frame
// demultiplexer, and rsync's variable-length index codec. Higher-level
// message parsing lives in package session.
package wire

import "errors"

// ErrFramingOverflow is returned by Delineated when a delimited token
// exceeds its size cap without the delimiter appearing.
var ErrFramingOverflow = errors.New("wire: framing overflow")

// ErrIndexProtocol is returned by IndexReader when a decoded index is
// negative but is not the NDX_DONE sentinel.
var ErrIndexProtocol = errors.New("wire: index decoded to invalid negative value")
