package snapshot

import (
	"fmt"
	"net"
	"strings"
)

// CheckACL evaluates a module's ordered "allow|deny <all|CIDR>" rule list
// against a connecting remote address, exactly as the teacher's rsyncd.go
// checkACL does: rules are evaluated in order, the first matching rule
// decides (allow -> nil, deny -> ErrACLDenied), and an empty rule list
// permits everyone. spec.md is silent on access control beyond the
// challenge seed field; this is carried forward per SPEC_FULL.md §4 since
// the teacher gates every module this way before the handshake completes.
func CheckACL(acls []string, remoteAddr net.Addr) error {
	if len(acls) == 0 {
		return nil
	}

	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		return fmt.Errorf("snapshot: invalid remote address %q: %w", remoteAddr.String(), err)
	}
	remoteIP := net.ParseIP(host)
	if remoteIP == nil {
		return fmt.Errorf("snapshot: invalid remote host %q", host)
	}

	for _, acl := range acls {
		i := strings.Index(acl, " ")
		if i < 0 {
			return fmt.Errorf("snapshot: invalid acl %q (no space found)", acl)
		}
		action, who := acl[:i], acl[i+len(" "):]
		if action != "allow" && action != "deny" {
			return fmt.Errorf("snapshot: invalid acl %q (syntax: allow|deny <all|ipnet>)", acl)
		}
		if who != "all" {
			_, ipnet, err := net.ParseCIDR(who)
			if err != nil {
				return fmt.Errorf("snapshot: invalid acl %q (syntax: allow|deny <all|ipnet>)", acl)
			}
			if !ipnet.Contains(remoteIP) {
				continue
			}
		}
		if action == "deny" {
			return fmt.Errorf("%w (acl %q)", ErrACLDenied, acl)
		}
		return nil
	}
	return nil
}
