package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/metrics"
)

// Module is the in-memory snapshot cache described by spec.md §4.7
// (MemoryCachedModule): it owns two path-keyed lookup maps, rebuilt
// wholesale and published by a single atomic pointer swap per map whenever
// its Repository reports a change. Reads never block on a rebuild in
// progress and never observe a half-built snapshot.
type Module struct {
	name        string
	description string
	repo        Repository

	recursiveLists    atomic.Pointer[map[string]*FileList]
	nonRecursiveLists atomic.Pointer[map[string]*FileList]

	mu    sync.Mutex
	ready chan struct{}
}

// NewModule constructs a Module mounted at name (the first path segment in
// client requests) and registers it as repo's watcher. The snapshot is
// empty until the first RepositoryUpdated call.
func NewModule(name, description string, repo Repository) *Module {
	m := &Module{
		name:        name,
		description: description,
		repo:        repo,
		ready:       make(chan struct{}),
	}
	empty := map[string]*FileList{}
	m.recursiveLists.Store(&empty)
	m.nonRecursiveLists.Store(&empty)
	repo.SetWatcher(m)
	return m
}

func (m *Module) GetName() string        { return m.name }
func (m *Module) GetDescription() string { return m.description }

// Ready returns a channel that closes the next time a snapshot is
// published, for callers (tests, a warmup routine) that want to wait for
// the first rebuild rather than poll GetFileList.
func (m *Module) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// RepositoryUpdated implements Watcher. It walks repo's current root,
// materializes a fresh RsyncFile tree, derives both lookup maps from it per
// the rule in spec.md §4.7, and publishes them with one atomic store per
// map. A failed rebuild leaves the previously published snapshot
// authoritative (spec.md §7: "Snapshot construction failures abort the
// current rebuild; the previously published snapshot remains
// authoritative").
func (m *Module) RepositoryUpdated(repo Repository) error {
	start := time.Now()
	defer func() {
		metrics.SnapshotRebuildDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	}()

	root, err := buildTree(context.Background(), repo.GetRepositoryRoot())
	if err != nil {
		metrics.SnapshotRebuildErrorsTotal.WithLabelValues(m.name).Inc()
		return fmt.Errorf("snapshot: rebuild of module %q: %w", m.name, err)
	}

	recursive := map[string]*FileList{}
	nonRecursive := map[string]*FileList{}
	populate(recursive, nonRecursive, root)

	m.recursiveLists.Store(&recursive)
	m.nonRecursiveLists.Store(&nonRecursive)

	m.mu.Lock()
	close(m.ready)
	m.ready = make(chan struct{})
	m.mu.Unlock()

	return nil
}

// populate implements the two-rule recursive insertion from spec.md §4.7:
// every node whose name contains a path separator gets a bare-path entry
// rooted at its parent directory; every directory additionally gets a
// trailing-slash entry rooted at itself, and recurses into its children.
// The module's own root (bare name, no separator) only ever gets the
// trailing-slash entry — GetFileList normalizes a bare module-name request
// to name+"/" before looking it up.
func populate(recursiveLists, nonRecursiveLists map[string]*FileList, node *RsyncFile) {
	if idx := strings.LastIndex(node.Name, "/"); idx >= 0 {
		root := node.Name[:idx]
		recursiveLists[node.Name] = buildFileList(root, node, true)
		nonRecursiveLists[node.Name] = buildFileList(root, node, false)
	}
	if node.IsDirectory {
		key := node.Name + "/"
		recursiveLists[key] = buildFileList(node.Name, node, true)
		nonRecursiveLists[key] = buildFileList(node.Name, node, false)
		for _, child := range node.Children {
			populate(recursiveLists, nonRecursiveLists, child)
		}
	}
}

// GetFileList looks up the FileList for rootPath in the currently
// published snapshot. A bare rootPath equal to the module name is
// rewritten to name+"/" first; anything else not rooted under name+"/" is
// ErrNoSuchPath, as is a rooted path absent from the current snapshot
// (spec.md §4.7).
func (m *Module) GetFileList(rootPath string, recursive bool) (*FileList, error) {
	prefix := m.name + "/"
	if rootPath == m.name {
		rootPath = prefix
	}
	if !strings.HasPrefix(rootPath, prefix) {
		return nil, ErrNoSuchPath
	}

	var mp map[string]*FileList
	if recursive {
		mp = *m.recursiveLists.Load()
	} else {
		mp = *m.nonRecursiveLists.Load()
	}

	fl, ok := mp[rootPath]
	if !ok {
		return nil, ErrNoSuchPath
	}
	return fl, nil
}
