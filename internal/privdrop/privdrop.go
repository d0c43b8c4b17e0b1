// Package privdrop drops root privileges once every privileged setup step
// (binding a listener, setting up the landlock ACL) is done.
package privdrop

import (
	"fmt"
	"syscall"

	"github.com/gokrazy-rsync-snapshotd/rsyncd/internal/rsynclog"
)

// nobody is the traditional uid/gid an unprivileged daemon process drops to
// when it has no need to run as a more specific unprivileged user.
const nobody = 65534

// Drop drops from root (uid 0) to uid/gid 65534 ("nobody"), and verifies the
// drop cannot be undone by trying to regain uid/gid 0 and failing on
// purpose. It is a no-op when the process is not running as root.
func Drop(logger rsynclog.Logger) error {
	if syscall.Getuid() != 0 {
		return nil
	}

	logger.Printf("running as root (uid 0), dropping privileges to nobody (uid/gid %d)", nobody)
	if err := syscall.Setgid(nobody); err != nil {
		return fmt.Errorf("privdrop: setgid(%d): %v", nobody, err)
	}
	if err := syscall.Setuid(nobody); err != nil {
		return fmt.Errorf("privdrop: setuid(%d): %v", nobody, err)
	}

	if err := syscall.Setgid(0); err == nil {
		return fmt.Errorf("privdrop: unexpectedly able to re-gain gid 0 permission")
	}
	if err := syscall.Setuid(0); err == nil {
		return fmt.Errorf("privdrop: unexpectedly able to re-gain uid 0 permission")
	}

	return nil
}
