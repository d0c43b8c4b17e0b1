package rsyncd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/metrics"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsynclog"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsyncopts"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/session"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/snapshot"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/wire"
)

// connState carries the per-connection data the session handler
// accumulates as messages arrive: the selected module, the parsed rsync
// options, the checksum seed handed to the peer via SetupMessage, and the
// FileList resolved for the requested root once FILTER_LIST completes.
type connState struct {
	module   *Module
	opts     *rsyncopts.Options
	seed     uint32
	rootPath string
	fileList *snapshot.FileList
}

// HandleDaemonConn drives one connection's session.Codec end to end: the
// server greets first, then every message Feed produces resolves a
// module, parses arguments, and answers generator requests out of the
// module's precomputed snapshot, until the peer sends NDX_DONE, a
// protocol error closes the codec, or the connection itself errors out.
// Once ARGUMENTS completes, handleMessage writes a SetupMessage carrying
// the per-connection checksum seed before FILTER_LIST begins, mirroring
// the point at which the teacher's HandleConn writes its checksum seed
// right before switching the writer over to multiplexing.
//
// The concrete byte layout of file-list entries and content downstream of
// a GeneratorMessage is, per spec.md §1, delegated to "a companion
// protocol module" this core does not define. encodeEntry below is this
// server's own minimal such format (index, metadata, checksum, compressed
// content), not a bit-exact reproduction of upstream rsync's file-list
// wire layout.
//
// FIXME: ctx cancellation is not wired into the read loop below; Serve
// closing the listener stops new connections but an in-flight one keeps
// running until the peer goes away.
func (s *Server) HandleDaemonConn(ctx context.Context, conn io.ReadWriter, remoteAddr net.Addr) (err error) {
	sessID := xid.New().String()
	logger := rsynclog.WithFields(s.logger, map[string]interface{}{
		"session": sessID,
		"remote":  remoteAddr.String(),
	})

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	cr, cw := wire.CounterPair(conn, conn)
	defer func() {
		logger.Printf("session done, %d bytes read, %d bytes written", cr.Count, cw.Count)
	}()

	c := session.NewCodec()
	greeting, err := c.Encode(session.Handshake(protocolMajor, protocolMinor))
	if err != nil {
		return err
	}
	if _, err := cw.Write(greeting); err != nil {
		return fmt.Errorf("rsyncd: writing greeting: %w", err)
	}

	// "SHOULD be unique to each connection", per
	// https://github.com/JohannesBuchner/Jarsync/blob/master/jarsync/rsync.txt
	st := connState{seed: uint32(time.Now().UnixNano())}
	defer func() {
		// handleCommand counts connections that select a module; the rest
		// are counted here under the "" label.
		if st.module == nil {
			metrics.ConnectionsTotal.WithLabelValues("").Inc()
		}
	}()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := cr.Read(buf)
		if n > 0 {
			msgs, ferr := c.Feed(buf[:n])
			for _, msg := range msgs {
				done, herr := s.handleMessage(cw, c, logger, remoteAddr, &st, msg)
				if herr != nil {
					metrics.SessionErrorsTotal.WithLabelValues(sessionErrorKind(herr)).Inc()
					return fmt.Errorf("rsyncd: %w", herr)
				}
				if done {
					if ferr != nil {
						metrics.SessionErrorsTotal.WithLabelValues(sessionErrorKind(ferr)).Inc()
						return fmt.Errorf("rsyncd: %w", ferr)
					}
					return nil
				}
			}
			if ferr != nil {
				metrics.SessionErrorsTotal.WithLabelValues(sessionErrorKind(ferr)).Inc()
				return fmt.Errorf("rsyncd: %w", ferr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("rsyncd: reading from %s: %w", remoteAddr, rerr)
		}
	}
}

// sessionErrorKind classifies err against the sentinels the codec and
// snapshot packages expose, for the SessionErrorsTotal "kind" label
// (spec.md §7). Anything it doesn't recognize is labeled "Internal".
func sessionErrorKind(err error) string {
	switch {
	case errors.Is(err, wire.ErrFramingOverflow):
		return "FramingOverflow"
	case errors.Is(err, session.ErrProtocolStartup):
		return "ProtocolStartupError"
	case errors.Is(err, session.ErrIncompatibleVersion):
		return "IncompatibleVersion"
	case errors.Is(err, session.ErrArgumentLimitExceeded):
		return "ArgumentLimitExceeded"
	case errors.Is(err, session.ErrIndexProtocol):
		return "IndexProtocolError"
	case errors.Is(err, snapshot.ErrNoSuchPath):
		return "NoSuchPath"
	default:
		return "Internal"
	}
}

// handleMessage reacts to a single decoded WireMessage. done=true tells
// the caller the connection is finished (either cleanly, via
// ListDoneMessage or a module listing, or because a terminal ErrorMessage
// was just written to the peer).
func (s *Server) handleMessage(conn io.Writer, c *session.Codec, logger rsynclog.Logger, remoteAddr net.Addr, st *connState, msg session.Message) (done bool, err error) {
	switch msg.Kind {
	case session.KindError:
		b, eerr := c.Encode(msg)
		if eerr != nil {
			return true, eerr
		}
		if _, werr := conn.Write(b); werr != nil {
			return true, werr
		}
		logger.Printf("protocol error: %s", msg.Text)
		return true, nil

	case session.KindHandshake:
		logger.Printf("client protocol %d.%d", msg.Major, msg.Minor)
		return false, nil

	case session.KindCommand:
		return s.handleCommand(conn, c, logger, remoteAddr, st, msg.Command)

	case session.KindArguments:
		done, err := s.handleArguments(conn, c, logger, st, msg.Args)
		if done || err != nil {
			return done, err
		}
		b, eerr := c.Encode(session.Setup(0, st.seed))
		if eerr != nil {
			return true, eerr
		}
		if _, werr := conn.Write(b); werr != nil {
			return true, werr
		}
		return false, nil

	case session.KindFilters:
		return s.handleFilters(conn, c, logger, st)

	case session.KindGenerator:
		return s.handleGenerator(conn, c, st, msg.Index)

	case session.KindListDone:
		return true, nil

	default:
		return true, fmt.Errorf("rsyncd: unexpected inbound message kind %v", msg.Kind)
	}
}

func (s *Server) handleCommand(conn io.Writer, c *session.Codec, logger rsynclog.Logger, remoteAddr net.Addr, st *connState, requestedModule string) (bool, error) {
	if requestedModule == "" || requestedModule == "#list" {
		logger.Printf("module listing requested")
		if err := writeResponse(conn, c, s.formatModuleList()); err != nil {
			return true, err
		}
		if err := writeResponse(conn, c, "@RSYNCD: EXIT\n"); err != nil {
			return true, err
		}
		return true, nil
	}

	mod, err := s.getModule(requestedModule)
	if err != nil {
		logger.Printf("unknown module %q", requestedModule)
		return true, writeError(conn, c, fmt.Sprintf("Unknown module %q", requestedModule))
	}

	if err := snapshot.CheckACL(mod.ACL, remoteAddr); err != nil {
		logger.Printf("acl denied: %v", err)
		return true, writeError(conn, c, err.Error())
	}

	st.module = &mod
	metrics.ConnectionsTotal.WithLabelValues(mod.Name).Inc()
	logger.Printf("module %q selected", mod.Name)
	return false, writeResponse(conn, c, "@RSYNCD: OK\n")
}

func (s *Server) handleArguments(conn io.Writer, c *session.Codec, logger rsynclog.Logger, st *connState, args []string) (bool, error) {
	if st.module == nil {
		return true, writeError(conn, c, "no module selected")
	}

	full := args
	if len(st.module.ExtraArgs) > 0 {
		full = append(append([]string(nil), st.module.ExtraArgs...), args...)
	}
	opts, err := rsyncopts.ParseArguments(full)
	if err != nil {
		logger.Printf("bad arguments: %v", err)
		return true, writeError(conn, c, fmt.Sprintf("%v", err))
	}
	st.opts = opts

	rootPath := st.module.Name
	if len(opts.Remaining) > 1 {
		if opts.Remaining[0] != "." {
			return true, writeError(conn, c, fmt.Sprintf("protocol error: got %q, expected \".\"", opts.Remaining[0]))
		}
		rootPath = opts.Remaining[1]
	}
	st.rootPath = rootPath
	logger.Printf("requested root %q recursive=%v compress=%v", rootPath, opts.Recurse, opts.Compress)
	return false, nil
}

func (s *Server) handleFilters(conn io.Writer, c *session.Codec, logger rsynclog.Logger, st *connState) (bool, error) {
	if st.module == nil || st.opts == nil {
		return true, writeError(conn, c, "filters received before arguments")
	}

	fl, err := st.module.Snapshot.GetFileList(st.rootPath, st.opts.Recurse)
	if err != nil {
		logger.Printf("GetFileList(%q): %v", st.rootPath, err)
		if errors.Is(err, snapshot.ErrNoSuchPath) {
			if werr := writeError(conn, c, fmt.Sprintf("no such file or directory: %q", st.rootPath)); werr != nil {
				return true, werr
			}
		}
		return true, err
	}
	st.fileList = fl

	for i, entry := range fl.Entries {
		if err := writeEntry(conn, c, int32(i), entry); err != nil {
			return true, err
		}
	}
	logger.Printf("sent %d entries for %q", len(fl.Entries), st.rootPath)
	return false, nil
}

func (s *Server) handleGenerator(conn io.Writer, c *session.Codec, st *connState, idx int32) (bool, error) {
	if st.fileList == nil || idx < 0 || int(idx) >= len(st.fileList.Entries) {
		return true, writeError(conn, c, fmt.Sprintf("index out of range: %d", idx))
	}
	entry := st.fileList.Entries[idx]
	if err := writeEntry(conn, c, idx, entry); err != nil {
		return true, err
	}
	if st.module != nil {
		metrics.BytesServedTotal.WithLabelValues(st.module.Name).Add(float64(len(entry.CompressedContents)))
	}
	return false, nil
}

func writeResponse(conn io.Writer, c *session.Codec, text string) error {
	b, err := c.Encode(session.Response(text))
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

func writeError(conn io.Writer, c *session.Codec, text string) error {
	b, err := c.Encode(session.Error(byte(wire.MsgError), text))
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

func writeEntry(conn io.Writer, c *session.Codec, idx int32, entry *snapshot.RsyncFile) error {
	b, err := c.Encode(session.Protocol(encodeEntry(idx, entry)))
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

// encodeEntry lays out one file-list entry as:
//
//	4 bytes  index (little-endian)
//	2 bytes  name length (little-endian)
//	N bytes  name (UTF-8)
//	1 byte   isDirectory (0 or 1)
//	8 bytes  size (little-endian)
//	8 bytes  lastModifiedTime (little-endian)
//	-- the following only when isDirectory == 0 --
//	16 bytes md5 checksum
//	4 bytes  compressed content length (little-endian)
//	N bytes  compressed content
func encodeEntry(idx int32, entry *snapshot.RsyncFile) []byte {
	name := entry.Name
	out := make([]byte, 0, 23+len(name)+len(entry.CompressedContents))
	out = appendUint32(out, uint32(idx))
	out = appendUint16(out, uint16(len(name)))
	out = append(out, name...)
	isDir := byte(0)
	if entry.IsDirectory {
		isDir = 1
	}
	out = append(out, isDir)
	out = appendUint64(out, uint64(entry.Size))
	out = appendUint64(out, uint64(entry.LastModifiedTime))
	if !entry.IsDirectory {
		out = append(out, entry.Checksum[:]...)
		out = appendUint32(out, uint32(len(entry.CompressedContents)))
		out = append(out, entry.CompressedContents...)
	}
	return out
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
