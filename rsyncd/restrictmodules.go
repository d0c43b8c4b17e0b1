package rsyncd

import (
	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/restrict"
)

// RestrictToModulePaths locks the process down to read-only access of
// modulePaths (the backing directories fsrepo.Repository scans) plus
// whatever the platform needs for name resolution. There is no writable
// counterpart here: every module this daemon serves is read-only
// (spec.md §1 Non-goals), unlike the teacher's restrictToModules, which
// additionally allowed read-write directories for writable modules.
func RestrictToModulePaths(modulePaths []string) error {
	return restrict.MaybeFileSystem(modulePaths)
}
