package remove

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sys/unix"
)

// TrashLocator returns the trash directory that should receive path on
// behalf of uid. The directory must exist and live on the same volume as
// path.
type TrashLocator interface {
	TrashDir(path string, uid uint32) (string, error)
}

// TrashFunc adapts a function to TrashLocator.
type TrashFunc func(path string, uid uint32) (string, error)

// TrashDir implements TrashLocator.
func (f TrashFunc) TrashDir(path string, uid uint32) (string, error) {
	return f(path, uid)
}

// VolumeTrash locates Finder-compatible trash directories: ~/.Trash for
// items on the home volume and <mount>/.Trashes/<uid> elsewhere.
type VolumeTrash struct {
	// HomeDir resolves a user's home directory. Defaults to the user
	// database.
	HomeDir func(uid uint32) (string, error)
	// MountPoint resolves the mount point holding path. Defaults to the
	// partition table.
	MountPoint func(path string) (string, error)
}

// TrashDir implements TrashLocator.
func (v VolumeTrash) TrashDir(path string, uid uint32) (string, error) {
	dev, err := deviceOf(path)
	if err != nil {
		return "", err
	}

	homeDir := v.HomeDir
	if homeDir == nil {
		homeDir = HomeDir
	}
	if home, err := homeDir(uid); err == nil {
		if hdev, err := deviceOf(home); err == nil && hdev == dev {
			trash := filepath.Join(home, ".Trash")
			if err := ensureDir(trash, 0o700, uid); err != nil {
				return "", err
			}
			return trash, nil
		}
	}

	mountPoint := v.MountPoint
	if mountPoint == nil {
		mountPoint = partitionMountPoint
	}
	mount, err := mountPoint(path)
	if err != nil {
		return "", fmt.Errorf("find volume of %s: %w", path, err)
	}
	trashes := filepath.Join(mount, ".Trashes")
	if err := os.MkdirAll(trashes, 0o755); err != nil {
		return "", err
	}
	_ = os.Chmod(trashes, fs.ModeSticky|0o333)
	trash := filepath.Join(trashes, strconv.FormatUint(uint64(uid), 10))
	if err := ensureDir(trash, 0o700, uid); err != nil {
		return "", err
	}
	return trash, nil
}

// HomeDir returns the home directory of uid from the user database.
func HomeDir(uid uint32) (string, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", err
	}
	if u.HomeDir == "" {
		return "", errors.New("user has no home directory")
	}
	return u.HomeDir, nil
}

// partitionMountPoint returns the longest mounted prefix of path.
func partitionMountPoint(path string) (string, error) {
	parts, err := disk.Partitions(true)
	if err != nil {
		return "", err
	}
	best := ""
	for _, p := range parts {
		mp := filepath.Clean(p.Mountpoint)
		if mp == path || mp == "/" || strings.HasPrefix(path, mp+string(filepath.Separator)) {
			if len(mp) > len(best) {
				best = mp
			}
		}
	}
	if best == "" {
		return "", fmt.Errorf("no mounted volume holds %s", path)
	}
	return best, nil
}

func deviceOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(st.Dev), nil
}

func ensureDir(dir string, perm os.FileMode, uid uint32) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	_ = unix.Lchown(dir, int(uid), -1)
	return nil
}

// ─── Moving ──────────────────────────────────────────────────────────────────

func (r *Remover) moveToTrash(path string, uid uint32) (string, error) {
	if r.Trash == nil {
		return "", errors.New("no trash locator configured")
	}
	trash, err := r.Trash.TrashDir(path, uid)
	if err != nil {
		return "", fmt.Errorf("locate trash for %s: %w", path, err)
	}

	r.naming.Lock()
	dest := uniqueName(trash, filepath.Base(path))
	err = os.Rename(path, dest)
	r.naming.Unlock()
	if err != nil {
		return "", fmt.Errorf("move %s to trash: %w", path, err)
	}

	// A confined user keeps only what they already owned.
	if r.Access == nil {
		chownTree(dest, uid)
	}
	return dest, nil
}

// uniqueName returns a free name in dir the way Finder does it:
// "de.lproj", "de 2.lproj", "de 3.lproj", ...
func uniqueName(dir, base string) string {
	candidate := filepath.Join(dir, base)
	if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
		return candidate
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 2; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s %d%s", stem, n, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

// chownTree hands a trashed tree to uid. Best effort: an unprivileged
// helper cannot chown and the items then keep their owner.
func chownTree(root string, uid uint32) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		_ = unix.Lchown(p, int(uid), -1)
		return nil
	})
}
