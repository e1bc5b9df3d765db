// Package storage is the placement engine: it decides where an accepted
// photo lives on disk and writes it there safely.
//
// Layout contract: files are placed at {root}/{YYYY}/{MM}/{filename},
// folder from the capture timestamp. External backup and restore tooling
// relies on this layout. Store never overwrites an existing file and every
// filesystem operation re-validates that its target stays inside the
// configured root.
package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Error codes carried by *Error. ErrCodePathNotAllowed is security
// relevant: it means a caller-supplied path tried to resolve outside the
// storage root.
const (
	ErrCodeInvalidFilename = "INVALID_FILENAME"
	ErrCodeExtNotAllowed   = "EXTENSION_NOT_ALLOWED"
	ErrCodeEmptyContent    = "EMPTY_CONTENT"
	ErrCodeTooLarge        = "FILE_TOO_LARGE"
	ErrCodePathNotAllowed  = "PATH_NOT_ALLOWED"
)

// Error is a permanent rejection by the placement engine. Rejections are
// never retried; transient filesystem failures are returned as plain
// wrapped errors instead.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

const (
	// storeDirPerm is the permission mode for directories under the root.
	storeDirPerm = fs.FileMode(0o750)

	// storeFilePerm is the permission mode for stored photo files.
	storeFilePerm = fs.FileMode(0o640)

	// maxFilenameLen caps a sanitized filename, extension included.
	maxFilenameLen = 100

	// maxCollisionAttempts bounds the numbered-suffix collision probe
	// before falling back to a generated unique name.
	maxCollisionAttempts = 999

	// copyBufSize is the buffer used when streaming uploads to disk.
	copyBufSize = 512 * 1024
)

// DefaultAllowedExtensions covers the photo and video formats phones
// actually produce.
var DefaultAllowedExtensions = []string{
	"jpg", "jpeg", "png", "gif", "heic", "heif", "webp", "bmp", "tiff", "dng", "mp4", "mov",
}

// Store places photo files under a root directory.
//
// Collision resolution and the create-only open are guarded per Store
// instance by placeMu, so two concurrent calls cannot pick the same leaf
// name. Writes to distinct destinations do not otherwise serialize.
type Store struct {
	root    string
	maxSize int64
	allowed map[string]struct{}

	placeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxFileSize sets the per-file size limit in bytes. Zero disables
// the limit.
func WithMaxFileSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithAllowedExtensions replaces the extension allow-list. Extensions are
// matched without the dot, case-insensitively.
func WithAllowedExtensions(exts []string) Option {
	return func(s *Store) {
		s.allowed = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			s.allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
		}
	}
}

// New creates a Store rooted at root, creating the directory if needed.
// The root is resolved to an absolute path so containment checks are
// stable regardless of the process working directory.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}

	if err := os.MkdirAll(root, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}

	s := &Store{root: abs}
	WithAllowedExtensions(DefaultAllowedExtensions)(s)

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// resolve converts a store-relative path to an absolute path, validating
// that it stays strictly inside the root. It is the single trusted
// boundary: every operation that touches the filesystem goes through it,
// on every call, not only at write time.
func (s *Store) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", &Error{Code: ErrCodePathNotAllowed, Message: "empty path"}
	}

	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) {
		return "", &Error{Code: ErrCodePathNotAllowed, Message: fmt.Sprintf("absolute path not allowed: %s", relPath)}
	}

	joined := filepath.Join(s.root, clean)

	// Containment check: the relative distance from root to the joined
	// path must never start with "..".
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &Error{Code: ErrCodePathNotAllowed, Message: fmt.Sprintf("path escapes storage root: %s", relPath)}
	}

	return joined, nil
}

// ResolveAbsolutePath returns the absolute path for a stored relative
// path, re-applying the root containment check.
func (s *Store) ResolveAbsolutePath(relPath string) (string, error) {
	return s.resolve(relPath)
}

// Store writes the stream to its destination under the root and returns
// the slash-separated relative path and the byte count.
//
// Validation failures (bad filename, extension not allowed, empty stream,
// size limit) are *Error rejections and permanent. Filesystem errors
// during the write are fatal for this file only; the partially written
// file is removed before returning, so a failed store is never visible
// under its final name.
func (s *Store) Store(r io.Reader, originalFilename string, taken time.Time) (string, int64, error) {
	name, err := SanitizeFilename(originalFilename)
	if err != nil {
		return "", 0, err
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := s.allowed[ext]; !ok {
		return "", 0, &Error{Code: ErrCodeExtNotAllowed, Message: fmt.Sprintf("extension %q not allowed", ext)}
	}

	folder := fmt.Sprintf("%04d/%02d", taken.Year(), int(taken.Month()))

	folderAbs, err := s.resolve(folder)
	if err != nil {
		return "", 0, err
	}

	// MkdirAll is idempotent, so concurrent stores into the same month
	// cannot race on directory creation.
	if err := os.MkdirAll(folderAbs, storeDirPerm); err != nil {
		return "", 0, fmt.Errorf("creating month directory %s: %w", folder, err)
	}

	// Pick a free leaf and open it create-only under one lock, so two
	// concurrent stores of the same name cannot both pass the free check.
	s.placeMu.Lock()
	relPath, f, err := s.createUnique(folder, name)
	s.placeMu.Unlock()

	if err != nil {
		return "", 0, err
	}

	n, err := s.copyLimited(f, r)

	cerr := f.Close()
	if err == nil {
		err = cerr
	}

	if err != nil {
		// Remove the partial file so the failed name never reads as stored.
		abs, rerr := s.resolve(relPath)
		if rerr == nil {
			os.Remove(abs) //nolint:errcheck
		}

		return "", 0, err
	}

	if n == 0 {
		abs, rerr := s.resolve(relPath)
		if rerr == nil {
			os.Remove(abs) //nolint:errcheck
		}

		return "", 0, &Error{Code: ErrCodeEmptyContent, Message: "empty file content"}
	}

	return relPath, n, nil
}

// createUnique finds a free filename in folder and opens it with
// O_CREATE|O_EXCL. The exclusive open is a second defense for the window
// between the existence probe and the write: even if the probe lied, the
// open fails rather than truncating an existing file.
func (s *Store) createUnique(folder, name string) (string, *os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	try := func(leaf string) (string, *os.File, error) {
		rel := folder + "/" + leaf

		abs, err := s.resolve(rel)
		if err != nil {
			return "", nil, err
		}

		f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, storeFilePerm) //nolint:gosec // G304: abs validated by resolve
		if err != nil {
			return "", nil, err
		}

		return rel, f, nil
	}

	rel, f, err := try(name)
	if err == nil {
		return rel, f, nil
	}

	if !os.IsExist(err) {
		return "", nil, fmt.Errorf("creating %s: %w", name, err)
	}

	for i := 1; i <= maxCollisionAttempts; i++ {
		rel, f, err = try(fmt.Sprintf("%s_%03d%s", stem, i, ext))
		if err == nil {
			return rel, f, nil
		}

		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("creating numbered copy of %s: %w", name, err)
		}
	}

	// Suffix space exhausted. Fall back to a globally unique name.
	rel, f, err = try(fmt.Sprintf("%s_%s%s", stem, uuid.NewString(), ext))
	if err != nil {
		return "", nil, fmt.Errorf("creating unique copy of %s: %w", name, err)
	}

	return rel, f, nil
}

// copyLimited streams r into w, enforcing the configured size limit while
// copying. Exceeding the limit is a permanent rejection.
func (s *Store) copyLimited(w io.Writer, r io.Reader) (int64, error) {
	if s.maxSize <= 0 {
		n, err := io.CopyBuffer(w, r, make([]byte, copyBufSize))
		if err != nil {
			return 0, fmt.Errorf("writing file: %w", err)
		}

		return n, nil
	}

	// Read one byte past the limit so an exactly-limit-sized file passes.
	n, err := io.CopyBuffer(w, io.LimitReader(r, s.maxSize+1), make([]byte, copyBufSize))
	if err != nil {
		return 0, fmt.Errorf("writing file: %w", err)
	}

	if n > s.maxSize {
		return 0, &Error{Code: ErrCodeTooLarge, Message: fmt.Sprintf("file exceeds %d byte limit", s.maxSize)}
	}

	return n, nil
}

// Exists reports whether relPath refers to a stored file. It never
// returns an error: resolution or stat failures read as "does not exist".
func (s *Store) Exists(relPath string) bool {
	abs, err := s.resolve(relPath)
	if err != nil {
		return false
	}

	info, err := os.Stat(abs)

	return err == nil && !info.IsDir()
}

// Open opens a stored file for reading and returns its size. Caller must
// close the returned ReadCloser.
func (s *Store) Open(relPath string) (io.ReadCloser, int64, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(abs) //nolint:gosec // G304: abs validated by resolve
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", relPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", relPath, err)
	}

	return f, info.Size(), nil
}

// Delete removes a stored file. Returns false without error when the file
// does not exist.
func (s *Store) Delete(relPath string) (bool, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return false, err
	}

	err = os.Remove(abs)
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("removing %s: %w", relPath, err)
	}

	return true, nil
}

// SanitizeFilename reduces a client-supplied filename to a safe leaf name:
// any directory component (either separator style) is discarded, the name
// is NFC-normalized (iOS produces NFD), characters that are illegal in
// common filesystems are replaced with underscores, and the result is
// capped at maxFilenameLen runes with the extension preserved.
func SanitizeFilename(name string) (string, error) {
	// Keep only the leaf. Check both separators regardless of OS since
	// the name arrives over the wire.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	name = norm.NFC.String(strings.TrimSpace(name))

	var b strings.Builder

	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	name = b.String()

	if name == "" || name == "." || name == ".." {
		return "", &Error{Code: ErrCodeInvalidFilename, Message: "filename is empty after sanitization"}
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	// A dangling or oversized extension cannot be preserved meaningfully.
	if len([]rune(ext)) >= maxFilenameLen {
		return "", &Error{Code: ErrCodeInvalidFilename, Message: "extension too long"}
	}

	if stemRunes, limit := []rune(stem), maxFilenameLen-len([]rune(ext)); len(stemRunes) > limit {
		stem = string(stemRunes[:limit])
	}

	if stem == "" {
		return "", &Error{Code: ErrCodeInvalidFilename, Message: "filename has no base name"}
	}

	return stem + ext, nil
}
