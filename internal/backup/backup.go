// Package backup takes verified point-in-time snapshots of the SQLite
// agenda database, prunes old snapshots and restores from them.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultKeep is how many snapshots Prune keeps unless told otherwise.
const DefaultKeep = 14

const (
	filePrefix   = "agenda-"
	fileSuffix   = ".db"
	stampLayout  = "20060102-150405.000000"
	dirPerm      = 0o700
	restoreExtra = ".restore"
)

// Info describes one snapshot file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Verified  bool      `json:"verified"`
}

// Snapshot writes a consistent copy of dbPath into dir and checks its
// integrity. VACUUM INTO is safe while the store is open in WAL mode.
func Snapshot(ctx context.Context, dbPath, dir string) (*Info, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	now := time.Now().UTC()
	dest := filepath.Join(dir, filePrefix+now.Format(stampLayout)+fileSuffix)

	db, err := openExisting(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "VACUUM INTO "+quote(dest)); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	if err := Verify(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	st, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	return &Info{Path: dest, Timestamp: now, Size: st.Size(), Verified: true}, nil
}

// Verify runs SQLite's integrity check against a snapshot.
func Verify(ctx context.Context, path string) error {
	db, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check %s failed: %s", path, result)
	}
	return nil
}

// List returns the snapshots in dir, newest first. A missing directory has
// no snapshots.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		ts, err := time.Parse(stampLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			ts = st.ModTime().UTC()
		}
		out = append(out, Info{Path: filepath.Join(dir, name), Timestamp: ts, Size: st.Size()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Prune deletes all but the newest keep snapshots and returns the removed
// paths. It keeps going after a failed removal and reports the last error.
func Prune(dir string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	snaps, err := List(dir)
	if err != nil || len(snaps) <= keep {
		return nil, err
	}

	var removed []string
	var lastErr error
	for _, s := range snaps[keep:] {
		if err := os.Remove(s.Path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, s.Path)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("prune backups: %w", lastErr)
	}
	return removed, nil
}

// Restore replaces dbPath with a verified copy of snapshot. The store must
// not be open. The copy is written beside dbPath and renamed into place so
// a failed restore leaves the current database untouched.
func Restore(ctx context.Context, snapshot, dbPath string) error {
	if err := Verify(ctx, snapshot); err != nil {
		return fmt.Errorf("refusing to restore: %w", err)
	}

	tmp := dbPath + restoreExtra
	if err := copyFile(snapshot, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := Verify(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	// Stale WAL files would be replayed over the restored pages.
	for _, ext := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + ext); err != nil && !os.IsNotExist(err) {
			_ = os.Remove(tmp)
			return fmt.Errorf("remove %s: %w", dbPath+ext, err)
		}
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace database: %w", err)
	}

	log.Printf("Backup: restored %s from %s", dbPath, snapshot)
	return nil
}

// openExisting opens a database file without creating it. The store keeps
// its database in WAL mode, which a mode=ro connection cannot always read.
func openExisting(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
