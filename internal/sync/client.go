package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/benmorin/photosync/internal/api"
)

// StatusError is a non-2xx response from the server. 4xx statuses are
// permanent rejections; everything else is worth retrying.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}

	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a photosync server over HTTP. It implements Server.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient builds a Client for the server at baseURL. The upload client
// has no request timeout because large photos on slow links legitimately
// take minutes; cancellation comes from the caller's context.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{},
	}
}

// Health verifies the server is reachable. It does not send the secret;
// the health route sits outside the credential boundary.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	return nil
}

// CheckHashes asks the server which of the fingerprints it already has.
func (c *Client) CheckHashes(ctx context.Context, hashes []string) (api.CheckHashesResult, error) {
	payload, err := json.Marshal(api.CheckHashesRequest{Hashes: hashes})
	if err != nil {
		return api.CheckHashesResult{}, fmt.Errorf("encoding check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/photos/check", bytes.NewReader(payload))
	if err != nil {
		return api.CheckHashesResult{}, fmt.Errorf("building check request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return api.CheckHashesResult{}, fmt.Errorf("checking fingerprints: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return api.CheckHashesResult{}, responseError(resp)
	}

	var result api.CheckHashesResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return api.CheckHashesResult{}, fmt.Errorf("decoding check response: %w", err)
	}

	return result, nil
}

// Upload streams one photo to the server as a multipart form. The file is
// piped rather than buffered so memory stays flat regardless of size.
func (c *Client) Upload(ctx context.Context, photo Photo) (api.UploadResult, error) {
	file, err := os.Open(photo.Path)
	if err != nil {
		return api.UploadResult{}, fmt.Errorf("opening %s: %w", photo.Path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", photo.Filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}

		if err := mw.WriteField("dateTaken", photo.DateTaken.Format(time.RFC3339)); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/photos", pr)
	if err != nil {
		return api.UploadResult{}, fmt.Errorf("building upload request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(api.SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return api.UploadResult{}, fmt.Errorf("uploading %s: %w", photo.Filename, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return api.UploadResult{}, responseError(resp)
	}

	var result api.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return api.UploadResult{}, fmt.Errorf("decoding upload response: %w", err)
	}

	return result, nil
}

// ValidateURL checks a server URL before any request is made.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing server URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("server URL has no host")
	}

	return nil
}

// responseError turns a non-2xx response into a StatusError, pulling the
// message out of the JSON error body when there is one.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	return &StatusError{Status: resp.StatusCode, Message: msg}
}

// drainAndClose finishes the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body) //nolint:errcheck
	body.Close()
}
