package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskUsageBytes sums the on-disk size of the store, cache, catalog and
// keyword paths. A path nested under another listed path is counted once.
// Missing paths count as zero, and so do files removed while the walk runs,
// since an ingestion may be rewriting the store concurrently. Leftover
// temporary files from interrupted atomic writes are not counted.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range distinctRoots(paths) {
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func pathSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || isTempArtifact(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// isTempArtifact matches the names utils.WriteFileAtomic gives its temp files.
func isTempArtifact(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

// distinctRoots cleans paths, drops empties and duplicates, and drops any
// path that lies inside another one in the list.
func distinctRoots(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	sort.Strings(cleaned)
	var roots []string
	for _, p := range cleaned {
		if n := len(roots); n > 0 {
			last := roots[n-1]
			if p == last || strings.HasPrefix(p, last+string(os.PathSeparator)) {
				continue
			}
		}
		roots = append(roots, p)
	}
	return roots
}
