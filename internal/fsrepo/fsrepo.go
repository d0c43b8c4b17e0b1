// Package fsrepo implements snapshot.Repository over a real filesystem
// directory tree: an initial recursive scan, then fsnotify-driven
// rescans coalesced onto a ticker, grounded on the watch-goroutine/ticker
// pattern in rclone-rclone's backend/local/changenotify_other.go (which
// accumulates fsnotify events between poll ticks rather than rescanning on
// every individual event).
package fsrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsynclog"
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/snapshot"
)

// node implements snapshot.Node over a materialized directory entry.
type node struct {
	name     string
	size     int64
	content  []byte
	mtime    int64
	isDir    bool
	children []*node
}

func (n *node) GetName() string            { return n.name }
func (n *node) GetSize() int64             { return n.size }
func (n *node) GetContent() []byte         { return n.content }
func (n *node) GetLastModifiedTime() int64 { return n.mtime }
func (n *node) IsDirectory() bool          { return n.isDir }
func (n *node) GetChildren() []snapshot.Node {
	out := make([]snapshot.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Repository scans moduleRoot from disk, presenting it as a
// snapshot.Repository rooted at moduleName (the path prefix every scanned
// node carries, matching the module-relative naming snapshot.Module
// expects).
type Repository struct {
	moduleName string
	moduleRoot string
	pollTick   time.Duration
	logger     rsynclog.Logger

	mu      sync.Mutex
	current snapshot.Node
	watcher snapshot.Watcher
}

// New returns a Repository that has not yet scanned moduleRoot; call Run to
// perform the initial scan and start watching.
func New(moduleName, moduleRoot string, pollTick time.Duration, logger rsynclog.Logger) *Repository {
	if logger == nil {
		logger = rsynclog.New(os.Stderr)
	}
	return &Repository{
		moduleName: moduleName,
		moduleRoot: moduleRoot,
		pollTick:   pollTick,
		logger:     logger,
	}
}

func (r *Repository) SetWatcher(w snapshot.Watcher) {
	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
}

func (r *Repository) GetRepositoryRoot() snapshot.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run performs the initial scan, then watches moduleRoot for changes until
// ctx is done. fsnotify events are accumulated and trigger at most one
// rescan per pollTick; pollTick <= 0 disables the ticker and every event
// triggers an immediate rescan instead.
func (r *Repository) Run(ctx context.Context) error {
	if err := r.rescan(); err != nil {
		return fmt.Errorf("fsrepo: initial scan of %s: %w", r.moduleRoot, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsrepo: creating watcher: %w", err)
	}
	defer w.Close()

	if err := addRecursive(w, r.moduleRoot); err != nil {
		return fmt.Errorf("fsrepo: watching %s: %w", r.moduleRoot, err)
	}

	var tick <-chan time.Time
	if r.pollTick > 0 {
		ticker := time.NewTicker(r.pollTick)
		defer ticker.Stop()
		tick = ticker.C
	}

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				// New directories need their own watch to see further changes.
				_ = w.Add(event.Name)
			}
			if r.pollTick > 0 {
				dirty = true
				continue
			}
			if err := r.rescan(); err != nil {
				r.logger.Printf("fsrepo: rescan after %v: %v", event, err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Printf("fsrepo: watcher error: %v", err)

		case <-tick:
			if !dirty {
				continue
			}
			dirty = false
			if err := r.rescan(); err != nil {
				r.logger.Printf("fsrepo: periodic rescan: %v", err)
			}
		}
	}
}

func (r *Repository) rescan() error {
	root, err := scan(r.moduleName, r.moduleRoot)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = root
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		return watcher.RepositoryUpdated(r)
	}
	return nil
}

func scan(name, path string) (*node, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &node{
			name:    name,
			size:    int64(len(content)),
			content: content,
			mtime:   fi.ModTime().Unix(),
		}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	children := make([]*node, 0, len(entries))
	for _, e := range entries {
		child, err := scan(name+"/"+e.Name(), filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return &node{
		name:     name,
		isDir:    true,
		mtime:    fi.ModTime().Unix(),
		children: children,
	}, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
