// Package rsyncopts turns the token slice carried by an
// session.ArgumentsMessage into a small Options struct the session handler
// consults to decide recursion, compression, and which fields the client
// wants preserved in its (never honored, since this daemon only sends)
// requested metadata. Grounded on the teacher's own use of
// github.com/DavidGamba/go-getoptions in the older
// internal/rsyncd/rsyncd.go, which parses exactly this same ARGUMENTS
// token list the same way, down to enabling Bundling mode because real
// rsync clients send bundled short options like "-logDtpr".
package rsyncopts

import (
	"fmt"

	"github.com/DavidGamba/go-getoptions"
)

// Options is every rsync CLI flag this read-only daemon cares about.
// Flags real rsync clients send but this daemon has no use for (owner,
// group, device/special-file preservation, verbosity) are still parsed so
// ParseArguments doesn't fail on them, but are not exposed beyond the
// struct: only Recurse and Compress influence behavior (session handler
// decides recursive vs. non-recursive FileList; Compress decides whether
// CompressedContents or Contents is sent).
type Options struct {
	Server bool
	Sender bool

	Recurse          bool
	PreserveLinks    bool
	PreserveTimes    bool
	PreservePerms    bool
	PreserveOwner    bool
	PreserveGroup    bool
	PreserveDevices  bool
	PreserveSpecials bool
	Compress         bool

	// Remaining holds positional arguments ParseArguments did not
	// recognize as flags (rsync's requested paths).
	Remaining []string
}

// ParseArguments parses args (an ArgumentsMessage's token slice, spec.md
// §3/§4.5) into an Options struct.
func ParseArguments(args []string) (*Options, error) {
	var opts Options
	opt := getoptions.New()

	// rsync (but not openrsync) bundles short options together, e.g.
	// "-logDtpr"; without Bundling mode getoptions would reject that as a
	// single unknown long flag named "logDtpr".
	opt.SetMode(getoptions.Bundling)

	opt.BoolVar(&opts.Server, "server", false)
	opt.BoolVar(&opts.Sender, "sender", false)
	opt.BoolVar(&opts.Recurse, "recursive", false, opt.Alias("r"))
	opt.BoolVar(&opts.PreserveLinks, "links", false, opt.Alias("l"))
	opt.BoolVar(&opts.PreserveTimes, "times", false, opt.Alias("t"))
	opt.BoolVar(&opts.PreservePerms, "perms", false, opt.Alias("p"))
	opt.BoolVar(&opts.PreserveOwner, "owner", false, opt.Alias("o"))
	opt.BoolVar(&opts.PreserveGroup, "group", false, opt.Alias("g"))
	opt.BoolVar(&opts.Compress, "compress", false, opt.Alias("z"))
	dOpt := opt.Bool("D", false)
	opt.Bool("v", false) // verbosity; this daemon has nothing to log more of per -v

	remaining, err := opt.Parse(args)
	if err != nil {
		return nil, fmt.Errorf("rsyncopts: %w", err)
	}
	if *dOpt {
		opts.PreserveDevices = true
		opts.PreserveSpecials = true
	}
	opts.Remaining = remaining
	return &opts, nil
}
