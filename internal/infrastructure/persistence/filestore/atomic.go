// Package filestore keeps the authoritative JSON documents on local disk.
// Every write goes temp file → fsync → rename, so readers never observe a
// half-written document. The rename is made durable with a directory fsync.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"
)

// Ownership - optional owner/group/mode applied after every write.
type Ownership struct {
	// Owner and Group are names; empty leaves the value unchanged.
	Owner string
	Group string

	// Mode is applied when non-zero.
	Mode fs.FileMode
}

// DefaultFileMode is used for a new document when no mode is configured.
const DefaultFileMode fs.FileMode = 0o644

// IsZero reports whether nothing needs to be applied.
func (o Ownership) IsZero() bool {
	return o.Owner == "" && o.Group == "" && o.Mode == 0
}

// ParseMode parses an octal permission string such as "0664".
func ParseMode(s string) (fs.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", s, err)
	}
	return fs.FileMode(v) & fs.ModePerm, nil
}

// writeJSONAtomic marshals v with two-space indentation and replaces path.
// The new file keeps the mode of the one it replaces, or DefaultFileMode.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(currentMode(path)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return syncDir(dir)
}

// currentMode returns the permission bits of path, or DefaultFileMode.
func currentMode(path string) fs.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return DefaultFileMode
	}
	return info.Mode().Perm()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync dir: %w", err)
	}
	return nil
}

// applyOwnership is best effort: failures are logged, the write already succeeded.
func applyOwnership(path string, o Ownership, logger *slog.Logger) {
	if o.IsZero() {
		return
	}
	uid, gid := -1, -1
	if o.Owner != "" {
		u, err := user.Lookup(o.Owner)
		if err != nil {
			logger.Warn("unknown file owner", "owner", o.Owner, "error", err)
		} else if id, err := strconv.Atoi(u.Uid); err == nil {
			uid = id
		}
	}
	if o.Group != "" {
		g, err := user.LookupGroup(o.Group)
		if err != nil {
			logger.Warn("unknown file group", "group", o.Group, "error", err)
		} else if id, err := strconv.Atoi(g.Gid); err == nil {
			gid = id
		}
	}
	if uid != -1 || gid != -1 {
		if err := os.Chown(path, uid, gid); err != nil {
			logger.Warn("chown failed", "path", path, "error", err)
		}
	}
	if o.Mode != 0 {
		if err := os.Chmod(path, o.Mode); err != nil {
			logger.Warn("chmod failed", "path", path, "error", err)
		}
	}
}

// readFile returns (nil, nil) when path does not exist.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// quarantine renames an unreadable document to path.corrupt-<timestamp>.
func quarantine(path string, now time.Time) (string, error) {
	dst := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}
