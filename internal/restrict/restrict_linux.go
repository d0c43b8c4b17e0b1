// Package restrict can be used to restrict further file system access of the
// process if the operating system provides an API for that.
package restrict

import (
	"fmt"
	"log"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// ExtraHook is set when testing to make the landlock rule set more permissive.
var ExtraHook func() []landlock.Rule

// As of Go 1.24, the net package Go resolver reads
// the following DNS configurations files:
var dnsLookup = []string{
	"/etc/resolv.conf",
	"/etc/hosts",
	"/etc/services",
	"/etc/nsswitch.conf",
}

// MaybeFileSystem locks the process down to read-only access of roDirs plus
// whatever the platform needs for name resolution. There is no rwDirs
// counterpart: this daemon never writes to a module's backing directory, so
// unlike the client/receiver side there is nothing to grant write access to.
func MaybeFileSystem(roDirs []string) error {
	re := ExtraHook
	if re == nil {
		re = func() []landlock.Rule {
			return nil
		}
	}
	allRoDirs := append(append([]string(nil), DefaultRoDirs...), roDirs...)
	log.Printf("setting up landlock ACL (paths ro: %d)", len(allRoDirs))
	err := landlock.V3.BestEffort().RestrictPaths(
		append(re(), []landlock.Rule{
			landlock.ROFiles(dnsLookup...).IgnoreIfMissing(),
			landlock.RODirs(allRoDirs...).IgnoreIfMissing(),
		}...)...)
	if err != nil {
		return fmt.Errorf("landlock: %v", err)
	}
	return nil
}
