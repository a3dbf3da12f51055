package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultInspectLimit bounds listing size when callers pass no limit.
const DefaultInspectLimit = 500

// Entry describes one file in a workspace listing.
type Entry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	MIME     string    `json:"mime,omitempty"`
}

// Listing is a bounded recursive view of a workspace directory.
type Listing struct {
	Root      string  `json:"root"`
	Files     int     `json:"files"`
	TotalSize int64   `json:"total_size"`
	Truncated bool    `json:"truncated"`
	Entries   []Entry `json:"entries"`
}

// Inspect walks root and returns up to limit file entries sorted by
// path, with file and byte totals covering the whole tree. Hidden files
// and directories are skipped.
func Inspect(ctx context.Context, root string, limit int) (*Listing, error) {
	if limit <= 0 {
		limit = DefaultInspectLimit
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: inspect: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: inspect: %s is not a directory", root)
	}

	listing := &Listing{Root: root}
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}

		mu.Lock()
		listing.Files++
		listing.TotalSize += fi.Size()
		keep := len(listing.Entries) < limit
		if keep {
			listing.Entries = append(listing.Entries, Entry{
				Path:     rel,
				Size:     fi.Size(),
				Modified: fi.ModTime(),
			})
		} else {
			listing.Truncated = true
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: inspect: %w", err)
	}

	sort.Slice(listing.Entries, func(i, j int) bool {
		return listing.Entries[i].Path < listing.Entries[j].Path
	})
	for i := range listing.Entries {
		if mtype, err := mimetype.DetectFile(filepath.Join(root, listing.Entries[i].Path)); err == nil {
			listing.Entries[i].MIME = mtype.String()
		}
	}
	return listing, nil
}
