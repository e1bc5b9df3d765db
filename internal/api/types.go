// Package api holds the JSON types shared by the photosync server handlers
// and the client. Only fingerprints and these small DTOs ever cross the
// client/server boundary.
package api

import "time"

// SecretHeader carries the shared API secret on every request except the
// health probe.
const SecretHeader = "X-API-Secret"

// CheckHashesRequest asks the server which fingerprints it already has.
type CheckHashesRequest struct {
	Hashes []string `json:"hashes"`
}

// CheckHashesResult partitions the requested fingerprints. Missing is
// derivable from Existing by set difference; it is included so clients do
// not have to, and it preserves the request order.
type CheckHashesResult struct {
	Existing []string `json:"existing"`
	Missing  []string `json:"missing"`
}

// UploadResult is returned after an upload. IsDuplicate is true when the
// content was already stored: the response then describes the canonical
// record and no second copy was written.
type UploadResult struct {
	ID          string    `json:"id"`
	StoredPath  string    `json:"storedPath"`
	UploadedAt  time.Time `json:"uploadedAt"`
	IsDuplicate bool      `json:"isDuplicate"`
}

// PhotoResponse is a single photo in API responses.
type PhotoResponse struct {
	ID               string    `json:"id"`
	Fingerprint      string    `json:"fingerprint"`
	OriginalFilename string    `json:"originalFilename"`
	StoredPath       string    `json:"storedPath"`
	FileSize         int64     `json:"fileSize"`
	DateTaken        time.Time `json:"dateTaken"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// PhotoListResponse is one page of stored photos, newest capture first.
// TotalCount is the full record count, independent of the page.
type PhotoListResponse struct {
	Photos     []PhotoResponse `json:"photos"`
	TotalCount int             `json:"totalCount"`
	Skip       int             `json:"skip"`
	Take       int             `json:"take"`
}

// HealthResponse is the unauthenticated liveness probe payload.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// ErrorResponse is the uniform error payload for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
