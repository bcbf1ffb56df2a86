// Package remove deletes or trashes items atomically, with dry-run support.
package remove

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
)

// ErrProtected is returned for paths that must never be mutated.
var ErrProtected = errors.New("protected path")

// Options controls one removal.
type Options struct {
	DryRun bool
	Trash  bool
	// UID owns trashed items and selects the trash directory.
	UID uint32
}

// Outcome describes one removal.
type Outcome struct {
	// Bytes is the apparent size of the item before removal.
	Bytes int64
	// Destination is where a trashed item ended up.
	Destination string
	// Remains is the staging directory still holding whatever a failed
	// delete could not remove. The item itself is gone from its path.
	Remains string
	DryRun  bool
}

// Remover deletes or trashes items. The zero value deletes only; trashing
// needs a TrashLocator.
type Remover struct {
	// Trash picks the per-user trash directory for an item.
	Trash TrashLocator
	// Roots are the configured scan roots, which are never removed themselves.
	Roots []string
	// Home is the requesting user's home directory, never removed itself.
	Home string
	// Access, when set, refuses items its user could not remove and leaves
	// trashed items with their owner.
	Access *Access

	// naming serializes trash collision resolution.
	naming sync.Mutex
}

// Remove measures path and then, unless dry-running, deletes or trashes it.
// The item is either gone from path or left where it was. A delete that
// fails after staging returns both an error and Outcome.Remains.
func (r *Remover) Remove(path string, opts Options) (Outcome, error) {
	path = filepath.Clean(path)
	if config.IsProtectedPath(path, r.Roots, r.Home) {
		return Outcome{}, fmt.Errorf("%s: %w", path, ErrProtected)
	}
	if err := r.Access.CanRemove(path); err != nil {
		return Outcome{}, err
	}

	size, err := Size(path)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Bytes: size, DryRun: opts.DryRun}
	if opts.DryRun {
		return out, nil
	}

	if opts.Trash {
		dest, err := r.moveToTrash(path, opts.UID)
		if err != nil {
			return Outcome{}, err
		}
		out.Destination = dest
		return out, nil
	}

	remains, err := deleteAtomically(path)
	if err != nil && remains == "" {
		return Outcome{}, err
	}
	out.Remains = remains
	return out, err
}

// Size returns the sum of the Lstat sizes of everything under path,
// excluding directory entries themselves.
func Size(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", path, err)
	}
	return total, nil
}

var removeAll = os.RemoveAll

// deleteAtomically renames path to a hidden staging sibling, which is the
// commit point, and then removes the staged tree. Past the commit point the
// item never returns to path: when removal fails, remains names the staging
// directory left behind. Scans skip staging directories.
func deleteAtomically(path string) (remains string, err error) {
	staging := filepath.Join(filepath.Dir(path), config.StagingPrefix+uuid.NewString())
	if err := os.Rename(path, staging); err != nil {
		return "", fmt.Errorf("stage %s: %w", path, err)
	}
	if err := removeAll(staging); err != nil {
		return staging, fmt.Errorf("remove %s: %w", path, err)
	}
	return "", nil
}
