// Song request HTTP handlers.
//
// This file exposes the public endpoints for the song request list:
//   - POST /requests  (submit a new request)
//   - GET  /requests  (list, paginated, ETag from the store revision token)
//
// Handlers are transport-thin: they validate input, call the request service,
// and translate service outcomes into HTTP responses. The POST path also
// records successful responses for Idempotency-Key replays.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/songsterhq/songster-backend/internal/config"
	"github.com/songsterhq/songster-backend/internal/domain"
	"github.com/songsterhq/songster-backend/internal/http/middleware"
	"github.com/songsterhq/songster-backend/internal/repo"
	"github.com/songsterhq/songster-backend/internal/services"
	"github.com/songsterhq/songster-backend/internal/utils"
)

// SongRequestService defines the operations consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SongRequestService interface {
	// Submit appends a uniquely coded record for (title, artist) to the
	// stored list, or fails with a distinguished service error.
	Submit(ctx context.Context, title, artist string) (*domain.SongRequest, error)
	// List returns the current list and its revision token.
	List(ctx context.Context) ([]domain.SongRequest, string, error)
}

// Handlers groups the HTTP endpoints for song requests and health.
type Handlers struct {
	reqSvc  SongRequestService
	gh      config.GitHubConfig
	db      *gorm.DB // idempotency records; nil disables replay support
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given service and config.
func New(reqSvc SongRequestService, gh config.GitHubConfig, db *gorm.DB, idemTTL time.Duration) *Handlers {
	return &Handlers{reqSvc: reqSvc, gh: gh, db: db, idemTTL: idemTTL}
}

//
// DTOs
//

// CreateSongRequestRequest is the JSON payload for submitting a song request.
type CreateSongRequestRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// SubmitResponse is the success envelope for a submitted request.
type SubmitResponse struct {
	OK    bool               `json:"ok"`
	Added domain.SongRequest `json:"added"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// ListSongRequestsResponse wraps a page of requests and pagination info.
type ListSongRequestsResponse struct {
	Requests   []domain.SongRequest `json:"requests"`
	Pagination Pagination           `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateSongRequest handles POST /requests.
//
// Responses: 200 {ok:true, added:<record>} on success; 400 when title or
// artist is missing; 409 on duplicate; 500 with code + detail for
// configuration, read, and write failures.
func (h *Handlers) CreateSongRequest(c *gin.Context) {
	var req CreateSongRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	title := strings.TrimSpace(req.Title)
	artist := strings.TrimSpace(req.Artist)
	if title == "" || artist == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and artist are required")
		return
	}

	ctx := c.Request.Context()

	// Serve a recorded response for a replayed Idempotency-Key without
	// touching the store (no second code is ever assigned).
	if middleware.IsReplay(c) && h.db != nil {
		if key, okKey := middleware.GetIdempotencyKey(c); okKey {
			if rec, err := repo.GetIdempotency(ctx, h.db, clientID(c), key, time.Now().UTC()); err == nil {
				c.Data(rec.Status, "application/json; charset=utf-8", []byte(rec.Body))
				return
			}
		}
	}

	added, err := h.reqSvc.Submit(ctx, title, artist)
	if err != nil {
		h.failSubmit(c, err)
		return
	}

	resp := SubmitResponse{OK: true, Added: *added}
	h.recordIdempotency(c, added.Code, resp)
	ok(c, http.StatusOK, resp)
}

// failSubmit maps service outcomes to HTTP responses.
func (h *Handlers) failSubmit(c *gin.Context, err error) {
	switch e := err.(type) {
	case *services.ConfigError:
		failDetail(c, http.StatusInternalServerError, ErrCodeConfigMissing,
			"missing required environment variables", strings.Join(e.Missing, ", "))
	case *services.ReadError:
		failDetail(c, http.StatusInternalServerError, ErrCodeReadFailed,
			"could not read song request file", e.Err.Error())
	case *services.WriteError:
		failDetail(c, http.StatusInternalServerError, ErrCodeWriteFailed,
			"could not write song request file", e.Err.Error())
	default:
		switch {
		case err == services.ErrMissingFields:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and artist are required")
		case err == services.ErrDuplicateSong:
			fail(c, http.StatusConflict, ErrCodeConflict, "song request already exists (same title and artist)")
		default:
			failDetail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error", err.Error())
		}
	}
}

// recordIdempotency persists the response for future replays. Best effort:
// failures are logged, never surfaced to the client.
func (h *Handlers) recordIdempotency(c *gin.Context, code string, resp SubmitResponse) {
	if h.db == nil {
		return
	}
	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if _, err := repo.CreateIdempotency(c.Request.Context(), h.db, clientID(c), key, code,
		http.StatusOK, string(body), h.idemTTL); err != nil && err != repo.ErrDuplicate {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("could not record idempotency key")
	}
}

// ListSongRequests handles GET /requests.
//
// Supports page/page_size query params (max 100 per page) and a weak ETag
// derived from the store's revision token; a matching If-None-Match yields
// 304 without re-sending the list.
func (h *Handlers) ListSongRequests(c *gin.Context) {
	list, rev, err := h.reqSvc.List(c.Request.Context())
	if err != nil {
		h.failSubmit(c, err)
		return
	}

	if rev != "" {
		etag := fmt.Sprintf(`W/"songs:%s"`, rev)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)
	total := len(list)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	totalPages := (total + pageSize - 1) / pageSize
	ok(c, http.StatusOK, ListSongRequestsResponse{
		Requests: list[start:end],
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// clientID keys idempotency records. The API is unauthenticated, so the
// client IP is the only identity available.
func clientID(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}
