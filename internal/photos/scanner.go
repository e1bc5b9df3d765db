// Package photos finds local photo files to back up, either with a
// one-shot directory scan or by watching the directory for new arrivals.
package photos

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/benmorin/photosync/internal/sync"
)

// photoExtensions mirrors what the server accepts by default.
var photoExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".heic": {}, ".heif": {}, ".webp": {}, ".bmp": {},
	".tiff": {}, ".dng": {}, ".mp4": {}, ".mov": {},
}

// IsPhoto reports whether the filename looks like a photo or video the
// server would accept.
func IsPhoto(name string) bool {
	_, ok := photoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func hidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

// Scan walks dir recursively and returns every photo file found, in a
// stable path order. Hidden files and directories are skipped, as are
// files with extensions the server would reject anyway. The capture date
// is taken from the file's modification time; phone exports preserve it.
func Scan(dir string) ([]sync.Photo, error) {
	var found []sync.Photo

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if hidden(path) && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() || !IsPhoto(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// The file disappeared mid-scan; skip it.
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		found = append(found, sync.Photo{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      info.Size(),
			DateTaken: info.ModTime().UTC(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	return found, nil
}
