//go:build !windows

package state

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func ensureOwnershipAndPerms(dir string) error {
	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	curUID := uint32(os.Getuid())
	if uint32(st.Uid) != curUID {
		return fmt.Errorf("state dir not owned by current user (uid=%d, owner=%d): %s", curUID, st.Uid, dir)
	}
	perm := os.FileMode(st.Mode) & os.ModePerm
	if perm == 0o700 {
		return nil
	}
	if err := unix.Chmod(dir, 0o700); err != nil {
		return fmt.Errorf("state dir has insecure perms (%#o) and chmod failed: %w", perm, err)
	}
	if err := unix.Lstat(dir, &st); err != nil {
		return err
	}
	if got := os.FileMode(st.Mode) & os.ModePerm; got != 0o700 {
		return fmt.Errorf("state dir has insecure perms (%#o): %s", got, dir)
	}
	return nil
}
