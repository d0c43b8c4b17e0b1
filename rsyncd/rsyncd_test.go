package rsyncd_test

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/snapshot"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/wire"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/rsyncd"
)

// fakeNode and fakeRepository mirror the doubles internal/snapshot's own
// tests use: a hand-built tree that never touches a real filesystem.
type fakeNode struct {
	name     string
	content  []byte
	mtime    int64
	children []*fakeNode
}

func (n *fakeNode) GetName() string            { return n.name }
func (n *fakeNode) GetSize() int64             { return int64(len(n.content)) }
func (n *fakeNode) GetContent() []byte         { return n.content }
func (n *fakeNode) GetLastModifiedTime() int64 { return n.mtime }
func (n *fakeNode) IsDirectory() bool          { return n.children != nil }
func (n *fakeNode) GetChildren() []snapshot.Node {
	out := make([]snapshot.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

type fakeRepository struct {
	root    *fakeNode
	watcher snapshot.Watcher
}

func (r *fakeRepository) SetWatcher(w snapshot.Watcher)    { r.watcher = w }
func (r *fakeRepository) GetRepositoryRoot() snapshot.Node { return r.root }

func newTestModule(t *testing.T, name string, acl []string) rsyncd.Module {
	t.Helper()
	repo := &fakeRepository{
		root: &fakeNode{
			name: name,
			children: []*fakeNode{
				{name: name + "/a.bin", content: []byte("hello world"), mtime: 1000},
			},
		},
	}
	snap := snapshot.NewModule(name, "test module "+name, repo)
	if err := snap.RepositoryUpdated(repo); err != nil {
		t.Fatalf("RepositoryUpdated: %v", err)
	}
	return rsyncd.Module{
		Name:        name,
		Description: "test module " + name,
		ACL:         acl,
		Snapshot:    snap,
	}
}

// serveOnPipe starts HandleDaemonConn on one end of an in-memory pipe and
// returns the other end for the test to drive as a client.
func serveOnPipe(t *testing.T, srv *rsyncd.Server) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	remoteAddr := &net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 4000}
	done := make(chan error, 1)
	go func() {
		done <- srv.HandleDaemonConn(context.Background(), server, remoteAddr)
	}()
	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return client
}

func readAvailable(t *testing.T, conn net.Conn, deadline time.Duration) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(deadline))
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
		if n < len(buf) {
			// likely drained what's currently available
			conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		}
	}
	return out
}

func TestModuleListing(t *testing.T) {
	mod := newTestModule(t, "rpki", nil)
	srv, err := rsyncd.NewServer([]rsyncd.Module{mod})
	if err != nil {
		t.Fatal(err)
	}
	conn := serveOnPipe(t, srv)

	// drain the server's greeting
	readAvailable(t, conn, 200*time.Millisecond)
	if _, err := io.WriteString(conn, "@RSYNCD: 30.0\n#list\n"); err != nil {
		t.Fatal(err)
	}

	out := readAvailable(t, conn, 300*time.Millisecond)
	if !strings.Contains(string(out), "rpki") {
		t.Errorf("module listing = %q, want it to mention rpki", out)
	}
	if !strings.Contains(string(out), "@RSYNCD: EXIT") {
		t.Errorf("module listing = %q, want an EXIT line", out)
	}
}

func TestUnknownModuleClosesWithError(t *testing.T) {
	mod := newTestModule(t, "rpki", nil)
	srv, err := rsyncd.NewServer([]rsyncd.Module{mod})
	if err != nil {
		t.Fatal(err)
	}
	conn := serveOnPipe(t, srv)
	readAvailable(t, conn, 200*time.Millisecond)

	if _, err := io.WriteString(conn, "@RSYNCD: 30.0\nbogus\n"); err != nil {
		t.Fatal(err)
	}
	out := readAvailable(t, conn, 300*time.Millisecond)
	if !strings.Contains(string(out), "Unknown module") {
		t.Errorf("response = %q, want an Unknown module error", out)
	}
}

func TestACLDeniesRemote(t *testing.T) {
	mod := newTestModule(t, "rpki", []string{"deny all"})
	srv, err := rsyncd.NewServer([]rsyncd.Module{mod})
	if err != nil {
		t.Fatal(err)
	}
	conn := serveOnPipe(t, srv)
	readAvailable(t, conn, 200*time.Millisecond)

	if _, err := io.WriteString(conn, "@RSYNCD: 30.0\nrpki\n"); err != nil {
		t.Fatal(err)
	}
	out := readAvailable(t, conn, 300*time.Millisecond)
	if !strings.Contains(string(out), "access denied") {
		t.Errorf("response = %q, want an access-denied error", out)
	}
}

func TestDuplicateModuleNameRejected(t *testing.T) {
	mod := newTestModule(t, "rpki", nil)
	_, err := rsyncd.NewServer([]rsyncd.Module{mod, mod})
	if err == nil {
		t.Error("expected an error constructing a server with duplicate module names")
	}
}

// captureWriter collects bytes written to it, for building multiplexed
// client frames the same way internal/session's own tests do.
type captureWriter struct{ buf []byte }

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func muxed(payload []byte) []byte {
	mw := &captureWriter{}
	(&wire.MultiplexWriter{Writer: mw}).Write(payload)
	return mw.buf
}

// decodedEntry mirrors encodeEntry's layout so the test can verify the
// bytes the generator path actually produced.
type decodedEntry struct {
	index       int32
	name        string
	isDirectory bool
	size        uint64
	mtime       uint64
	checksum    [md5.Size]byte
	compressed  []byte
}

func decodeEntry(b []byte) decodedEntry {
	var e decodedEntry
	e.index = int32(binary.LittleEndian.Uint32(b[0:4]))
	nameLen := binary.LittleEndian.Uint16(b[4:6])
	off := 6
	e.name = string(b[off : off+int(nameLen)])
	off += int(nameLen)
	e.isDirectory = b[off] == 1
	off++
	e.size = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	e.mtime = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	if !e.isDirectory {
		copy(e.checksum[:], b[off:off+md5.Size])
		off += md5.Size
		clen := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		e.compressed = b[off : off+int(clen)]
	}
	return e
}

// TestFullSessionHappyPath drives HandleDaemonConn through every state --
// HANDSHAKE, COMMAND, ARGUMENTS, FILTER_LIST, SEND_FILES -- against a
// single-file module, then decodes the entries the filter-list phase sent
// and the one the client's own generator request produced.
func TestFullSessionHappyPath(t *testing.T) {
	mod := newTestModule(t, "rpki", nil)
	srv, err := rsyncd.NewServer([]rsyncd.Module{mod})
	if err != nil {
		t.Fatal(err)
	}
	conn := serveOnPipe(t, srv)

	readAvailable(t, conn, 200*time.Millisecond) // drain the greeting

	var req []byte
	req = append(req, "@RSYNCD: 30.0\n"...)
	req = append(req, "rpki\n"...)
	req = append(req, "--server\x00"...)
	req = append(req, "--sender\x00"...)
	req = append(req, "\x00"...) // empty token ends ARGUMENTS
	req = append(req, muxed(wire.WriteLEUint32(nil, 0))...) // empty filter list

	if _, err := conn.Write(req); err != nil {
		t.Fatal(err)
	}

	// The server now writes, in order: the muxed module-select OK frame,
	// then the unmuxed 5-byte SetupMessage (checksum seed, never framed),
	// then muxed entries for the module's only file (populate's
	// trailing-slash listing: root + child).
	out := readAvailable(t, conn, 300*time.Millisecond)

	okFrameLen := 4 + int(binary.LittleEndian.Uint32(out[:4])&0x00FFFFFF)
	setup := out[okFrameLen : okFrameLen+5]
	if setup[0] != 0 {
		t.Errorf("setup flags = %d, want 0", setup[0])
	}
	if seed := binary.LittleEndian.Uint32(setup[1:5]); seed == 0 {
		t.Error("setup seed = 0, want a nonzero per-connection checksum seed")
	}
	rest := out[okFrameLen+5:]

	var entries [][]byte
	dec := wire.NewMultiplexDecoder()
	dec.OnOOB = func(tag wire.Tag, payload []byte) {}
	dec.Feed(rest)
	data := dec.Decode(nil)
	for len(data) > 0 {
		nameLen := binary.LittleEndian.Uint16(data[4:6])
		end := 6 + int(nameLen) + 1 + 8 + 8
		isDir := data[6+int(nameLen)] == 1
		if !isDir {
			clen := binary.LittleEndian.Uint32(data[end+md5.Size : end+md5.Size+4])
			end += md5.Size + 4 + int(clen)
		}
		entries = append(entries, data[:end])
		data = data[end:]
	}
	if len(entries) != 2 {
		t.Fatalf("got %d file-list entries, want 2 (root dir + one file)", len(entries))
	}

	fileEntry := decodeEntry(entries[1])
	if fileEntry.name != "rpki/a.bin" {
		t.Errorf("second entry name = %q, want rpki/a.bin", fileEntry.name)
	}
	if fileEntry.isDirectory {
		t.Error("second entry should not be a directory")
	}
	wantSum := md5.Sum([]byte("hello world"))
	if fileEntry.checksum != wantSum {
		t.Errorf("checksum = %x, want %x", fileEntry.checksum, wantSum)
	}

	// Ask for index 1 (the file) via a generator request, then end the
	// session.
	idxw := wire.NewIndexWriter()
	var genReq []byte
	genReq = append(genReq, idxw.Write(nil, 1)...)
	genReq = append(genReq, make([]byte, 16)...) // DefaultGeneratorPayloadSize
	genReq = append(genReq, idxw.Write(nil, wire.NdxDone)...)
	if _, err := conn.Write(muxed(genReq)); err != nil {
		t.Fatal(err)
	}

	out2 := readAvailable(t, conn, 300*time.Millisecond)
	dec2 := wire.NewMultiplexDecoder()
	dec2.OnOOB = func(tag wire.Tag, payload []byte) {}
	dec2.Feed(out2)
	data2 := dec2.Decode(nil)
	if len(data2) == 0 {
		t.Fatal("no generator response received")
	}
	got := decodeEntry(data2)
	if got.index != 1 || got.name != "rpki/a.bin" {
		t.Errorf("generator response = %+v, want index 1 for rpki/a.bin", got)
	}
}
