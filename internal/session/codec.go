package session

import (
	"fmt"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/wire"
)

// State is one stage of the session's linear state machine (spec §4.5).
// Transitions only ever move forward; there is no state that returns to an
// earlier one.
type State int

const (
	StateHandshake State = iota
	StateCommand
	StateArguments
	StateFilterList
	StateSendFiles
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateCommand:
		return "COMMAND"
	case StateArguments:
		return "ARGUMENTS"
	case StateFilterList:
		return "FILTER_LIST"
	case StateSendFiles:
		return "SEND_FILES"
	default:
		return "UNKNOWN"
	}
}

// maxArguments is the number of ARGUMENTS tokens accepted before
// ErrArgumentLimitExceeded; the 21st argument token triggers it (Open
// Question (b): checked before the token is appended, so exactly 20
// arguments can succeed).
const maxArguments = 20

// DefaultGeneratorPayloadSize is the byte length of a generator request
// following a file index in the base protocol (the four int32 fields of
// rsync's sum_head: checksum count, block length, checksum length,
// remainder length). The concrete shape of bytes following an index is a
// companion-protocol concern per spec §1; this default lets a caller with
// a different companion protocol override it via Codec.GeneratorPayloadSize.
const DefaultGeneratorPayloadSize = 16

type pendingGenerator struct {
	index   int32
	payload []byte
}

// Codec is a duplex rsync daemon session codec: Feed turns arriving bytes
// into WireMessages, Encode turns outbound WireMessages into bytes,
// toggling multiplex framing at the exact points the protocol requires
// (see spec §4.5). A Codec is not safe for concurrent use.
type Codec struct {
	// GeneratorPayloadSize overrides DefaultGeneratorPayloadSize. Zero
	// means "use the default"; set explicitly via NewCodec.
	GeneratorPayloadSize int

	state State
	buf   []byte
	mpx   *wire.MultiplexDecoder
	idx   *wire.IndexReader

	args    []string
	filters []string
	pending *pendingGenerator

	multiplexOutbound bool
	closed            bool
}

// NewCodec returns a Codec positioned at the start of a session, in
// HANDSHAKE state.
func NewCodec() *Codec {
	return &Codec{
		idx:                  wire.NewIndexReader(),
		GeneratorPayloadSize: DefaultGeneratorPayloadSize,
	}
}

// State reports the codec's current state, chiefly for logging.
func (c *Codec) State() State { return c.state }

// Closed reports whether the session has reached a terminal protocol
// error. Once true, Feed is a no-op.
func (c *Codec) Closed() bool { return c.closed }

// Feed appends raw bytes read from the peer and returns every WireMessage
// that became decodable as a result, in arrival order. The same sequence
// of messages results regardless of how the caller chunks Feed calls
// across a given byte stream.
func (c *Codec) Feed(raw []byte) ([]Message, error) {
	if c.closed {
		return nil, nil
	}

	if c.mpx != nil {
		c.mpx.Feed(raw)
		c.buf = c.mpx.Decode(c.buf)
	} else {
		c.buf = append(c.buf, raw...)
	}

	var out []Message
	for {
		msg, ok, err := c.step()
		if msg != nil {
			out = append(out, *msg)
		}
		if err != nil {
			return out, err
		}
		if !ok || c.closed {
			break
		}
	}
	return out, nil
}

// step attempts to parse exactly one WireMessage out of c.buf given the
// current state. It mutates c.buf and c.state itself when it makes
// progress; when data is insufficient it returns ok=false so the caller
// waits for more bytes, leaving c.buf untouched except in SEND_FILES, where
// an index and a partial generator payload are moved into c.pending. A
// non-nil error always comes paired with one of the sentinels in errors.go
// or wire.ErrFramingOverflow, so a caller
// can classify it with errors.Is (e.g. to label a metric). Some errors
// also carry a KindError Message in the same return (e.g.
// ErrProtocolStartup, ErrArgumentLimitExceeded): the caller should still
// encode and send that message to the peer before closing. ErrIndexProtocol
// is the one case with no accompanying message, since spec says a bad
// index token is never reported to the peer.
func (c *Codec) step() (msg *Message, ok bool, err error) {
	switch c.state {
	case StateHandshake:
		return c.stepHandshake()
	case StateCommand:
		return c.stepCommand()
	case StateArguments:
		return c.stepArguments()
	case StateFilterList:
		return c.stepFilterList()
	case StateSendFiles:
		return c.stepSendFiles()
	default:
		return nil, false, fmt.Errorf("session: unreachable state %v", c.state)
	}
}

func (c *Codec) stepHandshake() (*Message, bool, error) {
	token, consumed, ok, err := wire.Delineated(c.buf, 16, '\n')
	if err != nil {
		c.closed = true
		c.state = StateCommand
		m := Error(byte(wire.MsgError), "protocol startup error")
		return &m, false, err
	}
	if !ok {
		return nil, false, nil
	}
	c.buf = c.buf[consumed:]

	var major, minor uint32
	n, serr := fmt.Sscanf(token, "@RSYNCD: %d.%d", &major, &minor)
	if serr != nil || n != 2 {
		c.closed = true
		c.state = StateCommand
		m := Error(byte(wire.MsgError), "protocol startup error")
		return &m, false, ErrProtocolStartup
	}
	if major < minSupportedMajor {
		c.closed = true
		c.state = StateCommand
		m := Error(byte(wire.MsgError), "protocol version mismatch")
		return &m, false, ErrIncompatibleVersion
	}

	c.state = StateCommand
	m := Handshake(major, minor)
	return &m, true, nil
}

func (c *Codec) stepCommand() (*Message, bool, error) {
	token, consumed, ok, err := wire.Delineated(c.buf, 40, '\n')
	if err != nil {
		c.closed = true
		m := Error(byte(wire.MsgError), "command too long")
		return &m, false, err
	}
	if !ok {
		return nil, false, nil
	}
	c.buf = c.buf[consumed:]

	c.state = StateArguments
	c.multiplexOutbound = true
	m := CommandMsg(token)
	return &m, true, nil
}

func (c *Codec) stepArguments() (*Message, bool, error) {
	token, consumed, ok, err := wire.Delineated(c.buf, 128, 0x00)
	if err != nil {
		c.closed = true
		m := Error(byte(wire.MsgError), "argument too long")
		return &m, false, err
	}
	if !ok {
		return nil, false, nil
	}

	if token == "" {
		c.buf = c.buf[consumed:]
		m := Arguments(append([]string(nil), c.args...))
		c.args = nil

		c.mpx = wire.NewMultiplexDecoder()
		c.mpx.Feed(c.buf)
		c.buf = c.mpx.Decode(nil)
		c.state = StateFilterList
		return &m, true, nil
	}

	if len(c.args) >= maxArguments {
		c.closed = true
		m := Error(byte(wire.MsgError), "argument limit exceeded")
		return &m, false, ErrArgumentLimitExceeded
	}

	c.buf = c.buf[consumed:]
	c.args = append(c.args, token)
	return nil, true, nil
}

func (c *Codec) stepFilterList() (*Message, bool, error) {
	if len(c.buf) < 4 {
		return nil, false, nil
	}
	n, _ := wire.ReadLEUint32(c.buf)

	if n == 0 {
		c.buf = c.buf[4:]
		m := Filters(append([]string(nil), c.filters...))
		c.filters = nil
		c.state = StateSendFiles
		return &m, true, nil
	}

	total := 4 + int(n)
	if len(c.buf) < total {
		return nil, false, nil
	}
	entry := string(c.buf[4:total])
	c.buf = c.buf[total:]
	c.filters = append(c.filters, entry)
	return nil, true, nil
}

func (c *Codec) stepSendFiles() (*Message, bool, error) {
	if c.pending == nil {
		idx, consumed, ok, err := c.idx.Read(c.buf)
		if err != nil {
			return nil, false, ErrIndexProtocol
		}
		if !ok {
			return nil, false, nil
		}
		c.buf = c.buf[consumed:]

		if idx == wire.NdxDone {
			m := ListDone()
			return &m, true, nil
		}
		c.pending = &pendingGenerator{index: idx}
	}

	size := c.GeneratorPayloadSize
	if size == 0 {
		size = DefaultGeneratorPayloadSize
	}
	need := size - len(c.pending.payload)
	avail := len(c.buf)
	if avail > need {
		avail = need
	}
	c.pending.payload = append(c.pending.payload, c.buf[:avail]...)
	c.buf = c.buf[avail:]

	if len(c.pending.payload) == size {
		m := Generator(c.pending.index, c.pending.payload)
		c.pending = nil
		return &m, true, nil
	}
	return nil, false, nil
}

// Encode serializes an outbound WireMessage, applying multiplex framing to
// the kinds that require it once the session has engaged multiplexing
// (after COMMAND). HandshakeMessage and SetupMessage are never framed: the
// first predates any framing and the second is the framing's own setup.
// ResponseMessage and ProtocolMessage carry no framing before multiplexing
// engages, matching how real rsync daemons never emit them pre-engagement.
// ErrorMessage is special-cased: before multiplexing it is written as a
// literal "@ERROR: " line (the pre-engagement-era client only understands
// that form), and after, as a muxed frame tagged with msg.Code.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	switch msg.Kind {
	case KindHandshake:
		return []byte(fmt.Sprintf("@RSYNCD: %d.%d\n", msg.Major, msg.Minor)), nil

	case KindSetup:
		buf := make([]byte, 0, 5)
		buf = append(buf, msg.Flags)
		buf = wire.WriteLEUint32(buf, msg.Seed)
		return buf, nil

	case KindResponse:
		if c.multiplexOutbound {
			return wire.PackFrame(wire.MsgError, []byte(msg.Text)), nil
		}
		return []byte(msg.Text), nil

	case KindProtocol:
		if c.multiplexOutbound {
			return wire.PackFrame(wire.MsgData, msg.Opaque), nil
		}
		return msg.Opaque, nil

	case KindError:
		if c.multiplexOutbound {
			return wire.PackFrame(wire.Tag(msg.Code), []byte(msg.Text+"\n")), nil
		}
		return []byte("@ERROR: " + msg.Text + "\n"), nil

	default:
		return nil, ErrUnknownOutboundKind
	}
}
