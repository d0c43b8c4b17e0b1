package snapshot

import "errors"

// ErrNoSuchPath is returned by Module.GetFileList when the requested root
// path is not a module-relative path, or is but was never materialized by
// the most recent snapshot.
var ErrNoSuchPath = errors.New("snapshot: no such path")

// ErrDigestUnavailable would signal that the checksum algorithm the
// snapshot builder depends on is missing. crypto/md5 is always linked and
// registered by the standard library, so this is unreachable in practice;
// it is kept as a sentinel only so callers can errors.Is against the
// error kind spec'd for snapshot construction failures.
var ErrDigestUnavailable = errors.New("snapshot: digest algorithm unavailable")

// ErrACLDenied is returned by CheckACL when the first matching rule is a
// deny rule. An address that matches no rule at all is allowed.
var ErrACLDenied = errors.New("snapshot: access denied")
