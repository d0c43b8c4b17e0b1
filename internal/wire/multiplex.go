package wire

// Tag identifies the kind of payload carried by one multiplex frame.
type Tag byte

const (
	// MsgData carries sender->receiver payload bytes that are fed back
	// into the session decoder for further parsing.
	MsgData Tag = 0
	// MsgErrorXfer signals a transfer error from the peer.
	MsgErrorXfer Tag = 1
	// MsgInfo carries an informational message for the log.
	MsgInfo Tag = 2
	// MsgError carries an error message for the log.
	MsgError Tag = 3
)

// tagOffset is rsync's bias added to the tag before it is packed into the
// header's top byte (so tag 0 does not collide with a zero header).
const tagOffset = 7

// frameHeaderLen is the number of bytes in a multiplex frame header.
const frameHeaderLen = 4

// packHeader composes the 4-byte little-endian multiplex header for a
// frame of the given tag and payload length.
func packHeader(tag Tag, length int) uint32 {
	return uint32(tag+tagOffset)<<24 | uint32(length)&0x00FFFFFF
}

// unpackHeader splits a decoded little-endian header back into tag and
// payload length.
func unpackHeader(header uint32) (tag Tag, length int) {
	return Tag(byte(header>>24) - tagOffset), int(header & 0x00FFFFFF)
}

// MultiplexDecoder demultiplexes the tag/length framing that the inbound
// stream switches to once the client has finished sending arguments (see
// the SessionCodec ARGUMENTS state). It is inserted at the head of the
// inbound pipeline exactly once, and from then on every inbound byte must
// pass through it before the session decoder sees it.
type MultiplexDecoder struct {
	buf []byte
	// OnOOB is invoked synchronously for every non-MsgData frame
	// encountered (MSG_ERROR_XFER, MSG_INFO, MSG_ERROR, or any other tag
	// value); these produce log events rather than decoder input. OnOOB
	// may be nil, in which case out-of-band frames are silently dropped.
	OnOOB func(tag Tag, payload []byte)
}

// NewMultiplexDecoder returns a decoder ready to Feed.
func NewMultiplexDecoder() *MultiplexDecoder {
	return &MultiplexDecoder{}
}

// Feed appends newly-arrived bytes to the decoder's internal buffer.
func (d *MultiplexDecoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Decode extracts every fully-buffered frame, appending MSG_DATA payloads
// to out (which it returns) and dispatching other tags to OnOOB as they
// are encountered. It stops and returns once fewer than 4 header bytes
// remain buffered or the frame currently being decoded is not yet fully
// present, leaving the partial frame in the internal buffer for the next
// Feed/Decode round.
func (d *MultiplexDecoder) Decode(out []byte) []byte {
	for {
		header, ok := ReadLEUint32(d.buf)
		if !ok {
			return out
		}
		tag, length := unpackHeader(header)
		if len(d.buf) < frameHeaderLen+length {
			return out
		}
		payload := d.buf[frameHeaderLen : frameHeaderLen+length]
		if tag == MsgData {
			out = append(out, payload...)
		} else if d.OnOOB != nil {
			// Copy: the underlying buffer is about to be advanced/reused.
			cp := make([]byte, length)
			copy(cp, payload)
			d.OnOOB(tag, cp)
		}
		d.buf = d.buf[frameHeaderLen+length:]
	}
}

// PackFrame returns payload framed as a single multiplex frame of the given
// tag, for callers that build an outbound byte slice directly rather than
// writing through a MultiplexWriter (e.g. session.Codec.Encode, which has
// no io.Writer of its own).
func PackFrame(tag Tag, payload []byte) []byte {
	frame := WriteLEUint32(make([]byte, 0, frameHeaderLen+len(payload)), packHeader(tag, len(payload)))
	return append(frame, payload...)
}

// MultiplexWriter frames every Write call as one multiplex frame tagged
// MsgData, for callers that produce frames through an io.Writer (the tests
// use it to build a client's multiplexed bytes). The server's own outbound
// frames are built with PackFrame by session.Codec.Encode instead.
type MultiplexWriter struct {
	Writer interface {
		Write([]byte) (int, error)
	}
}

// WriteMsg writes one multiplex frame of the given tag carrying payload,
// composing the header and payload as a single chained write rather than
// two allocations-then-copy calls.
func (w *MultiplexWriter) WriteMsg(tag Tag, payload []byte) (int, error) {
	frame := WriteLEUint32(make([]byte, 0, frameHeaderLen+len(payload)), packHeader(tag, len(payload)))
	frame = append(frame, payload...)
	n, err := w.Writer.Write(frame)
	if err != nil {
		return n, err
	}
	return len(payload), nil
}

// Write implements io.Writer by framing p as a single MsgData frame.
func (w *MultiplexWriter) Write(p []byte) (int, error) {
	return w.WriteMsg(MsgData, p)
}
