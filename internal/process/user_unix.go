//go:build !windows

package process

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// credentialFor resolves username to a syscall.Credential (uid, gid, and
// supplementary groups), the way spec.md §4.C's "switch supplementary
// groups then gid then uid" is expressed on this platform: instead of
// user-space code running between fork and exec, the kernel performs the
// switch atomically as part of execve via SysProcAttr.Credential.
func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("user %q does not exist: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("user %q has non-numeric uid %q", username, u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("user %q has non-numeric gid %q", username, u.Gid)
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("resolving supplementary groups for %q: %w", username, err)
	}
	groups := make([]uint32, 0, len(groupIDs))
	for _, g := range groupIDs {
		gv, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			continue
		}
		groups = append(groups, uint32(gv))
	}
	return &syscall.Credential{
		Uid:    uint32(uid),
		Gid:    uint32(gid),
		Groups: groups,
	}, nil
}
