package snapshot

// Node is one entry of the immutable tree a Repository hands back from
// GetRepositoryRoot. The snapshot builder never mutates a Node; it copies
// whatever GetContent returns at materialization time.
type Node interface {
	GetName() string
	GetSize() int64
	GetContent() []byte
	GetLastModifiedTime() int64
	IsDirectory() bool
	GetChildren() []Node
}

// Watcher is notified when a Repository's backing store changes. Module
// implements this to rebuild its snapshot.
type Watcher interface {
	RepositoryUpdated(repo Repository) error
}

// Repository is the external collaborator spec.md §6 delegates scanning
// to: something that can hand back an immutable tree snapshot and notify a
// single registered Watcher when a new one is available. Concrete
// implementations (e.g. a filesystem walker) live outside this package;
// internal/fsrepo provides one.
type Repository interface {
	SetWatcher(w Watcher)
	GetRepositoryRoot() Node
}
