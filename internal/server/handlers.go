package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/benmorin/photosync/internal/api"
	"github.com/benmorin/photosync/internal/fingerprint"
	"github.com/benmorin/photosync/internal/index"
	"github.com/benmorin/photosync/internal/storage"
)

// multipartMemory is the in-memory threshold for parsed uploads; larger
// bodies spool to a temp file.
const multipartMemory = 32 << 20

// defaultPageSize applies when the list request omits take.
const defaultPageSize = 100

// Health reports liveness. It sits outside the credential boundary.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
	})
}

// CheckHashes partitions the submitted fingerprints into those already
// stored and those the client still needs to upload. Any malformed
// fingerprint fails the whole batch so a buggy client cannot silently
// skip uploads.
func (h *Handler) CheckHashes(w http.ResponseWriter, r *http.Request) {
	var req api.CheckHashesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	normalized := make([]string, 0, len(req.Hashes))

	for i, raw := range req.Hashes {
		fp := fingerprint.Normalize(raw)
		if !fingerprint.IsValid(fp) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fingerprint at index %d", i))
			return
		}

		normalized = append(normalized, fp)
	}

	existing, err := h.index.Existing(normalized)
	if err != nil {
		h.logger.Error("checking fingerprints", "error", err)
		writeError(w, http.StatusInternalServerError, "checking fingerprints failed")

		return
	}

	existingSet := make(map[string]struct{}, len(existing))
	for _, fp := range existing {
		existingSet[fp] = struct{}{}
	}

	// Missing keeps the request order, without repeats.
	missing := make([]string, 0, len(normalized)-len(existing))
	seen := make(map[string]struct{}, len(normalized))

	for _, fp := range normalized {
		if _, ok := existingSet[fp]; ok {
			continue
		}

		if _, ok := seen[fp]; ok {
			continue
		}

		seen[fp] = struct{}{}
		missing = append(missing, fp)
	}

	writeJSON(w, http.StatusOK, api.CheckHashesResult{Existing: existing, Missing: missing})
}

// Upload ingests one photo from a multipart form with a "file" part and a
// "dateTaken" field. The content is fingerprinted before placement so a
// duplicate never touches the storage tree; a duplicate upload returns the
// canonical record with 200 instead of 201.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// Slack for the multipart framing around the file part.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload body too large")
			return
		}

		writeError(w, http.StatusBadRequest, "invalid multipart body")

		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	taken, err := time.Parse(time.RFC3339, r.FormValue("dateTaken"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dateTaken, want RFC 3339")
		return
	}

	fp, err := fingerprint.Compute(file)
	if err != nil {
		h.logger.Error("fingerprinting upload", "error", err)
		writeError(w, http.StatusInternalServerError, "reading upload failed")

		return
	}

	// Known content short-circuits placement entirely.
	if existing, err := h.index.FindByFingerprint(fp); err != nil {
		h.logger.Error("looking up fingerprint", "error", err)
		writeError(w, http.StatusInternalServerError, "fingerprint lookup failed")

		return
	} else if existing != nil {
		writeJSON(w, http.StatusOK, duplicateResult(existing))
		return
	}

	relPath, size, err := h.store.Store(file, header.Filename, taken)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	record, err := h.index.RecordNew(index.StoredPhoto{
		ID:               uuid.NewString(),
		Fingerprint:      fp,
		OriginalFilename: header.Filename,
		StoredPath:       relPath,
		FileSize:         size,
		DateTaken:        taken.UTC(),
		UploadedAt:       time.Now().UTC(),
	})

	switch {
	case errors.Is(err, index.ErrDuplicate):
		// Lost the race to a concurrent upload of the same content. The
		// canonical record wins; our freshly placed copy is surplus.
		if _, rmErr := h.store.Delete(relPath); rmErr != nil {
			h.logger.Warn("removing surplus duplicate copy", "path", relPath, "error", rmErr)
		}

		writeJSON(w, http.StatusOK, duplicateResult(&record))

		return
	case err != nil:
		h.logger.Error("recording photo", "error", err)

		if _, rmErr := h.store.Delete(relPath); rmErr != nil {
			h.logger.Warn("removing unrecorded file", "path", relPath, "error", rmErr)
		}

		writeError(w, http.StatusInternalServerError, "recording photo failed")

		return
	}

	writeJSON(w, http.StatusCreated, api.UploadResult{
		ID:         record.ID,
		StoredPath: record.StoredPath,
		UploadedAt: record.UploadedAt,
	})
}

func duplicateResult(p *index.StoredPhoto) api.UploadResult {
	return api.UploadResult{
		ID:          p.ID,
		StoredPath:  p.StoredPath,
		UploadedAt:  p.UploadedAt,
		IsDuplicate: true,
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var rejection *storage.Error
	if errors.As(err, &rejection) {
		if rejection.Code == storage.ErrCodePathNotAllowed {
			h.logger.Warn("rejected upload path", "error", err)
		}

		writeError(w, http.StatusBadRequest, rejection.Message)

		return
	}

	h.logger.Error("storing photo", "error", err)
	writeError(w, http.StatusInternalServerError, "storing photo failed")
}

// List returns one page of photos, newest capture date first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	skip, ok := queryInt(w, r, "skip", 0)
	if !ok {
		return
	}

	take, ok := queryInt(w, r, "take", defaultPageSize)
	if !ok {
		return
	}

	photos, total, err := h.index.List(skip, take)
	if err != nil {
		h.logger.Error("listing photos", "error", err)
		writeError(w, http.StatusInternalServerError, "listing photos failed")

		return
	}

	resp := api.PhotoListResponse{
		Photos:     make([]api.PhotoResponse, 0, len(photos)),
		TotalCount: total,
		Skip:       skip,
		Take:       take,
	}
	for i := range photos {
		resp.Photos = append(resp.Photos, toPhotoResponse(&photos[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s parameter", key))
		return 0, false
	}

	return n, true
}

func toPhotoResponse(p *index.StoredPhoto) api.PhotoResponse {
	return api.PhotoResponse{
		ID:               p.ID,
		Fingerprint:      p.Fingerprint,
		OriginalFilename: p.OriginalFilename,
		StoredPath:       p.StoredPath,
		FileSize:         p.FileSize,
		DateTaken:        p.DateTaken,
		UploadedAt:       p.UploadedAt,
	}
}

// Get returns the metadata record for one photo.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	photo, ok := h.findPhoto(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toPhotoResponse(photo))
}

// Content streams the stored bytes of one photo.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	photo, ok := h.findPhoto(w, r)
	if !ok {
		return
	}

	rc, size, err := h.store.Open(photo.StoredPath)
	if err != nil {
		h.logger.Error("opening stored photo", "id", photo.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "opening photo content failed")

		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(photo.StoredPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("streaming photo content", "id", photo.ID, "error", err)
	}
}

// Delete removes a photo record and its stored file. Deleting frees the
// fingerprint, so the same content can be uploaded again afterwards.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	photo, err := h.index.Delete(r.PathValue("id"))
	if err != nil {
		h.logger.Error("deleting photo record", "error", err)
		writeError(w, http.StatusInternalServerError, "deleting photo failed")

		return
	}

	if photo == nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return
	}

	if _, err := h.store.Delete(photo.StoredPath); err != nil {
		// The record is gone; the orphaned file is logged, not fatal.
		h.logger.Warn("removing stored file", "path", photo.StoredPath, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) findPhoto(w http.ResponseWriter, r *http.Request) (*index.StoredPhoto, bool) {
	photo, err := h.index.FindByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("looking up photo", "error", err)
		writeError(w, http.StatusInternalServerError, "photo lookup failed")

		return nil, false
	}

	if photo == nil {
		writeError(w, http.StatusNotFound, "photo not found")
		return nil, false
	}

	return photo, true
}
