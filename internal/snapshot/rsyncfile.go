package snapshot

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// syncMarker is the 4-byte trailer zlib/flate emits on a Z_SYNC_FLUSH
// (00 00 FF FF); it is stripped from CompressedContents so a decompressor
// can continue statefully across files without re-synchronizing, and must
// be re-appended by whatever consumes CompressedContents downstream.
var syncMarker = []byte{0x00, 0x00, 0xFF, 0xFF}

// deflateLevel matches spec.md §3: "zlib deflate at
// level 6, window-bits −15, memlevel 8". klauspost/compress/flate is
// already raw deflate (no zlib header/trailer), so window-bits −15 and
// memlevel are satisfied by construction; only the level is a knob here.
const deflateLevel = 6

// RsyncFile is an immutable, precomputed tree node: once built by
// buildTree it is never mutated again. A fresh snapshot builds an entirely
// new tree rather than patching this one.
type RsyncFile struct {
	Name               string
	Size               int64
	Contents           []byte
	CompressedContents []byte
	Checksum           [md5.Size]byte
	LastModifiedTime   int64
	IsDirectory        bool
	Children           []*RsyncFile
}

// buildTree walks n depth-first, materializing every node into an
// RsyncFile. Sibling subtrees are built concurrently via errgroup, mirroring
// the teacher's use of golang.org/x/sync/errgroup for bounded fan-out
// (internal/maincmd.Main starts its daemon/server/monitoring goroutines the
// same way). Child order is preserved exactly as the Repository returns it;
// concurrency affects only which goroutine computes each child, never the
// order they are stored in.
func buildTree(ctx context.Context, n Node) (*RsyncFile, error) {
	if n.IsDirectory() {
		children := n.GetChildren()
		built := make([]*RsyncFile, len(children))

		g, gctx := errgroup.WithContext(ctx)
		for i, child := range children {
			i, child := i, child
			g.Go(func() error {
				bf, err := buildTree(gctx, child)
				if err != nil {
					return err
				}
				built[i] = bf
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &RsyncFile{
			Name:             n.GetName(),
			LastModifiedTime: n.GetLastModifiedTime(),
			IsDirectory:      true,
			Children:         built,
		}, nil
	}

	contents := n.GetContent()
	compressed, err := deflateSyncFlush(contents)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compressing %q: %w", n.GetName(), err)
	}
	return &RsyncFile{
		Name:               n.GetName(),
		Size:               int64(len(contents)),
		Contents:           contents,
		CompressedContents: compressed,
		Checksum:           md5.Sum(contents),
		LastModifiedTime:   n.GetLastModifiedTime(),
	}, nil
}

// deflateSyncFlush compresses contents at deflateLevel and flushes with a
// Z_SYNC_FLUSH equivalent (flate.Writer.Flush), then strips the trailing
// sync marker per spec.md §3/§6.
func deflateSyncFlush(contents []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, deflateLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(contents); err != nil {
		return nil, err
	}
	if err := zw.Flush(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	if bytes.HasSuffix(out, syncMarker) {
		out = out[:len(out)-len(syncMarker)]
	}
	return append([]byte(nil), out...), nil
}
