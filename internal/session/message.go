// Package session implements the rsync daemon session state machine: it
// turns an inbound byte stream into WireMessages (handshake, command,
// arguments, filters, generator requests) and serializes outbound
// WireMessages back into bytes, toggling multiplex framing at the point
// the wire protocol requires it. See internal/wire for the byte-level
// framing this package builds on.
package session

// Kind discriminates the WireMessage tagged union (spec §3).
type Kind int

const (
	KindHandshake Kind = iota
	KindCommand
	KindArguments
	KindFilters
	KindGenerator
	KindListDone
	KindSetup
	KindResponse
	KindProtocol
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindCommand:
		return "Command"
	case KindArguments:
		return "Arguments"
	case KindFilters:
		return "Filters"
	case KindGenerator:
		return "Generator"
	case KindListDone:
		return "ListDone"
	case KindSetup:
		return "Setup"
	case KindResponse:
		return "Response"
	case KindProtocol:
		return "Protocol"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Message is the tagged union of every message the codec can emit or
// accept. Only the fields relevant to Kind are meaningful; see spec §3 for
// the per-kind field list this mirrors field-for-field.
type Message struct {
	Kind Kind

	// KindHandshake
	Major, Minor uint32

	// KindCommand
	Command string

	// KindArguments
	Args []string

	// KindFilters
	Filters []string

	// KindGenerator
	Index   int32
	Payload []byte

	// KindSetup
	Flags byte
	Seed  uint32

	// KindResponse, KindError
	Text string
	Code byte

	// KindProtocol
	Opaque []byte
}

func Handshake(major, minor uint32) Message {
	return Message{Kind: KindHandshake, Major: major, Minor: minor}
}

func CommandMsg(cmd string) Message {
	return Message{Kind: KindCommand, Command: cmd}
}

func Arguments(args []string) Message {
	return Message{Kind: KindArguments, Args: args}
}

func Filters(filters []string) Message {
	return Message{Kind: KindFilters, Filters: filters}
}

func Generator(index int32, payload []byte) Message {
	return Message{Kind: KindGenerator, Index: index, Payload: payload}
}

func ListDone() Message {
	return Message{Kind: KindListDone}
}

func Setup(flags byte, seed uint32) Message {
	return Message{Kind: KindSetup, Flags: flags, Seed: seed}
}

func Response(text string) Message {
	return Message{Kind: KindResponse, Text: text}
}

func Protocol(payload []byte) Message {
	return Message{Kind: KindProtocol, Opaque: payload}
}

func Error(code byte, text string) Message {
	return Message{Kind: KindError, Code: code, Text: text}
}
