// Package github implements the thin client for the GitHub Contents API,
// which this service uses as a single-file JSON store with optimistic
// concurrency. Reads return the current blob sha alongside the decoded
// content; writes supply that sha so GitHub rejects the update if another
// writer committed in between.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"

	"github.com/songsterhq/songster-backend/internal/config"
)

const (
	// DefaultBaseURL is the public GitHub API origin. Tests point BaseURL at
	// an httptest server instead.
	DefaultBaseURL = "https://api.github.com"

	apiAccept  = "application/vnd.github+json"
	apiVersion = "2022-11-28"
	userAgent  = "songster-bot"
)

// ErrNotFound indicates the file does not exist yet at the configured path,
// which the caller treats as an empty list with no revision token.
var ErrNotFound = errors.New("file not found")

// ConflictError is returned when the conditional write loses: GitHub rejects
// the PUT because the supplied sha no longer matches the current blob (or,
// on create, because the file already exists). Detail carries the API's
// diagnostic text for the caller's error response.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return "write conflict: " + e.Detail
}

// File is the result of a read: the blob's revision token and raw content.
type File struct {
	SHA     string
	Content []byte
}

// Client talks to the Contents API for one configured repository file.
// It is stateless and safe for concurrent use.
type Client struct {
	// BaseURL overrides the API origin; empty means DefaultBaseURL.
	BaseURL string
	// HTTPClient overrides the transport; nil means http.DefaultClient.
	HTTPClient *http.Client

	cfg config.GitHubConfig
}

// NewClient returns a client bound to the given store coordinates. The
// coordinates are assumed complete; callers check cfg.Missing() first.
func NewClient(cfg config.GitHubConfig) *Client {
	return &Client{cfg: cfg}
}

// contentsURL builds /repos/{owner}/{repo}/contents/{path}. The path is
// escaped as a single segment; the Contents API accepts encoded slashes.
func (c *Client) contentsURL() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		base, c.cfg.Owner, c.cfg.Repo, url.PathEscape(c.cfg.Path))
}

// builder applies the headers every Contents API call carries.
func (c *Client) builder() *requests.Builder {
	b := requests.
		URL(c.contentsURL()).
		Header("Authorization", "Bearer "+c.cfg.Token).
		Header("Accept", apiAccept).
		Header("X-GitHub-Api-Version", apiVersion).
		Header("User-Agent", userAgent)
	if c.HTTPClient != nil {
		b = b.Client(c.HTTPClient)
	}
	return b
}

// contentsResponse is the subset of the GET response this service reads.
// Content is base64 with embedded newlines when encoding is "base64".
type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// putRequest is the conditional write body. SHA is omitted on first create.
type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// GetFile fetches the current file content and revision token at the
// configured path and branch. The Contents API is used rather than the
// download URL so the response is never cache-stale and carries the real
// blob sha.
//
// A 404 maps to ErrNotFound; any other failure is returned with the API's
// diagnostic text attached.
func (c *Client) GetFile(ctx context.Context) (*File, error) {
	var meta contentsResponse
	var errBody string
	err := c.builder().
		Param("ref", c.cfg.Branch).
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToString(&errBody))).
		ToJSON(&meta).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w: %s", c.cfg.Path, err, strings.TrimSpace(errBody))
	}

	raw := []byte(meta.Content)
	if meta.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(meta.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.cfg.Path, err)
		}
		raw = decoded
	}
	return &File{SHA: meta.SHA, Content: raw}, nil
}

// PutFile writes content to the configured path on the configured branch.
//
// When sha is non-empty the write is an update conditional on that revision
// token; when empty it is a create that fails if the file already exists.
// Either losing outcome surfaces as a *ConflictError. GitHub reports lost
// races as 409 and some sha mismatches as 422.
func (c *Client) PutFile(ctx context.Context, content []byte, sha, message string) error {
	body := putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.cfg.Branch,
		SHA:     sha,
	}
	var errBody string
	err := c.builder().
		Put().
		BodyJSON(body).
		AddValidator(requests.ValidatorHandler(requests.DefaultValidator, requests.ToString(&errBody))).
		Fetch(ctx)
	if err != nil {
		detail := strings.TrimSpace(errBody)
		if detail == "" {
			detail = err.Error()
		}
		if requests.HasStatusErr(err, http.StatusConflict, http.StatusUnprocessableEntity) {
			return &ConflictError{Detail: detail}
		}
		return fmt.Errorf("write %s: %w: %s", c.cfg.Path, err, detail)
	}
	return nil
}
