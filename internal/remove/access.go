package remove

import (
	"errors"
	"fmt"
	"io/fs"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrNotPermitted is returned when the requesting user could not make the
// change with their own file permissions.
var ErrNotPermitted = errors.New("not permitted for requesting user")

// Access checks changes against one user's own permissions, so a privileged
// helper does nothing on their behalf that they could not do themselves.
// A nil Access permits everything.
type Access struct {
	UID    uint32
	groups map[uint32]bool
}

// AccessFor returns the checker for uid. Group membership comes from the
// user database; an unknown uid is judged by owner and other bits only.
func AccessFor(uid uint32) *Access {
	a := &Access{UID: uid, groups: make(map[uint32]bool)}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return a
	}
	ids, _ := u.GroupIds()
	for _, id := range append(ids, u.Gid) {
		if gid, err := strconv.ParseUint(id, 10, 32); err == nil {
			a.groups[uint32(gid)] = true
		}
	}
	return a
}

// CanRemove reports whether the user could unlink path and, for a
// directory, everything beneath it.
func (a *Access) CanRemove(path string) error {
	if a == nil || a.UID == 0 {
		return nil
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := a.canUnlink(p); err != nil {
			return err
		}
		if d.IsDir() {
			return a.canWriteDir(p)
		}
		return nil
	})
}

// CanReplace reports whether the user could rename another file over path.
func (a *Access) CanReplace(path string) error {
	if a == nil || a.UID == 0 {
		return nil
	}
	return a.canUnlink(path)
}

// canUnlink applies the parent directory's write bit and sticky rule.
func (a *Access) canUnlink(path string) error {
	parent := filepath.Dir(path)
	var dir unix.Stat_t
	if err := unix.Lstat(parent, &dir); err != nil {
		return fmt.Errorf("stat %s: %w", parent, err)
	}
	if !a.allows(&dir, 0o3) {
		return fmt.Errorf("%w: uid %d cannot write %s", ErrNotPermitted, a.UID, parent)
	}
	if uint32(dir.Mode)&unix.S_ISVTX == 0 || dir.Uid == a.UID {
		return nil
	}
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Uid != a.UID {
		return fmt.Errorf("%w: uid %d does not own %s in sticky %s", ErrNotPermitted, a.UID, path, parent)
	}
	return nil
}

func (a *Access) canWriteDir(dir string) error {
	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !a.allows(&st, 0o3) {
		return fmt.Errorf("%w: uid %d cannot write %s", ErrNotPermitted, a.UID, dir)
	}
	return nil
}

// allows checks bits (rwx as 4/2/1) in the owner, group or other class
// that applies to the user.
func (a *Access) allows(st *unix.Stat_t, bits uint32) bool {
	mode := uint32(st.Mode)
	switch {
	case st.Uid == a.UID:
		return mode>>6&bits == bits
	case a.groups[st.Gid]:
		return mode>>3&bits == bits
	default:
		return mode&bits == bits
	}
}
