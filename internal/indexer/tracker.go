package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vaultmind/vaultmind/internal/models"
)

// Supported note extensions and excluded directory names.
var (
	supportedExtensions = map[string]bool{".md": true, ".txt": true}
	excludedDirs        = map[string]bool{".obsidian": true, ".trash": true, "templates": true}
)

// ExcludedDir reports whether a directory name is never descended into.
func ExcludedDir(name string) bool {
	return excludedDirs[strings.ToLower(name)]
}

// IndexableFile reports whether a relative path is admitted for indexing:
// supported extension, outside excluded directories, not ignored.
func IndexableFile(relPath string, ignorePatterns []string) bool {
	if !supportedExtensions[strings.ToLower(filepath.Ext(relPath))] {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if excludedDirs[strings.ToLower(part)] {
			return false
		}
	}
	for _, pattern := range ignorePatterns {
		if ok, _ := filepath.Match(pattern, filepath.Base(relPath)); ok {
			return false
		}
		if ok, _ := filepath.Match(pattern, filepath.ToSlash(relPath)); ok {
			return false
		}
	}
	return true
}

// DiscoverFiles walks root and returns the sorted relative paths of every
// indexable file. Stable order keeps re-runs idempotent.
func DiscoverFiles(root string, ignorePatterns []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excludedDirs[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if IndexableFile(rel, ignorePatterns) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Snapshot captures the current (size, mtime, content hash) of every
// indexable file under root.
func Snapshot(root string, ignorePatterns []string) (map[string]models.FileState, error) {
	files, err := DiscoverFiles(root, ignorePatterns)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]models.FileState, len(files))
	for _, rel := range files {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue // deleted between walk and stat
		}
		hash, err := HashFile(full)
		if err != nil {
			continue
		}
		snap[rel] = models.FileState{
			Size:        info.Size(),
			ModTime:     info.ModTime().UTC(),
			ContentHash: hash,
		}
	}
	return snap, nil
}

// DiffSnapshots compares a previous snapshot against the current one and
// returns the changeset. A file whose size and mtime are unchanged is
// trusted without re-hashing at the caller's discretion; here states are
// compared fully since Snapshot already hashed.
func DiffSnapshots(previous, current map[string]models.FileState) models.IncrementalPayload {
	var changes models.IncrementalPayload
	for path, cur := range current {
		prev, ok := previous[path]
		if !ok {
			changes.Added = append(changes.Added, path)
			continue
		}
		if prev.ContentHash != cur.ContentHash || prev.Size != cur.Size {
			changes.Modified = append(changes.Modified, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			changes.Deleted = append(changes.Deleted, path)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	return changes
}

// HashFile returns the hex sha256 of a file's content.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
