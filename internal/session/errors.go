package session

import "errors"

// ErrProtocolStartup covers a malformed handshake line: present but not of
// the form "@RSYNCD: <major>.<minor>\n". The caller should write the
// returned ErrorMessage to the peer and close the connection.
var ErrProtocolStartup = errors.New("session: malformed handshake line")

// ErrIncompatibleVersion is returned when the handshake parses but
// announces a protocol major version this server does not support.
var ErrIncompatibleVersion = errors.New("session: incompatible protocol version")

// ErrArgumentLimitExceeded is returned when a 21st argument token arrives
// during the ARGUMENTS state.
var ErrArgumentLimitExceeded = errors.New("session: argument limit exceeded")

// ErrIndexProtocol is a fatal decode error: an index token decoded to an
// invalid negative value that was not NDX_DONE. Per spec this is not
// reported to the peer; the caller drops the connection outright.
var ErrIndexProtocol = errors.New("session: invalid index encoding")

// ErrUnknownOutboundKind is returned by Encode for message kinds that have
// no outbound wire representation (Command, Arguments, Filters, Generator,
// ListDone are inbound-only in this protocol).
var ErrUnknownOutboundKind = errors.New("session: unknown outbound message kind")

// minSupportedMajor is the oldest rsync daemon-protocol major version this
// server negotiates. rsync has shipped protocol 27 since the 2.6 series;
// older peers are rejected as incompatible rather than risk an unsupported
// wire shape.
const minSupportedMajor = 27
