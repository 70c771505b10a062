package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/songsterhq/songster-backend/internal/config"
	"github.com/songsterhq/songster-backend/internal/domain"
	"github.com/songsterhq/songster-backend/internal/http/middleware"
	"github.com/songsterhq/songster-backend/internal/services"
)

// stubService scripts Submit/List outcomes for handler tests.
type stubService struct {
	submitRec  *domain.SongRequest
	submitErr  error
	submitN    int
	listResult []domain.SongRequest
	listRev    string
	listErr    error
}

func (s *stubService) Submit(_ context.Context, title, artist string) (*domain.SongRequest, error) {
	s.submitN++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if s.submitRec != nil {
		return s.submitRec, nil
	}
	rec := domain.NewSongRequest(title, artist, "00001", time.Now())
	return &rec, nil
}

func (s *stubService) List(context.Context) ([]domain.SongRequest, string, error) {
	if s.listErr != nil {
		return nil, "", s.listErr
	}
	return s.listResult, s.listRev, nil
}

func handlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:h_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T, svc SongRequestService, gh config.GitHubConfig, db *gorm.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(svc, gh, db, time.Hour)
	if db != nil {
		r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
			func(ctx context.Context, clientID, key string, now time.Time) (bool, error) {
				rec, err := getIdemForTest(ctx, db, clientID, key, now)
				return err == nil && rec, nil
			}))
	}
	r.GET("/health", h.Health)
	r.POST("/requests", h.CreateSongRequest)
	r.GET("/requests", h.ListSongRequests)
	return r
}

// getIdemForTest mirrors the router's lookup closure.
func getIdemForTest(ctx context.Context, db *gorm.DB, clientID, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("client_id = ? AND key = ? AND expires_at > ?", clientID, key, now).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func postJSON(r *gin.Engine, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSongRequest_Success(t *testing.T) {
	rec := domain.NewSongRequest("Africa", "Toto", "00007", time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	svc := &stubService{submitRec: &rec}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := postJSON(r, `{"title":"Africa","artist":"Toto"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || resp.Added.Code != "00007" || resp.Added.Title != "Africa" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateSongRequest_InvalidJSON(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := postJSON(r, `{"title": `, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.submitN != 0 {
		t.Fatal("service called on malformed body")
	}
}

func TestCreateSongRequest_MissingFields(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	for _, body := range []string{
		`{}`,
		`{"title":"Africa"}`,
		`{"artist":"Toto"}`,
		`{"title":"   ","artist":"Toto"}`,
	} {
		w := postJSON(r, body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, w.Code)
		}
		if !strings.Contains(w.Body.String(), "title and artist are required") {
			t.Fatalf("body %s: response = %s", body, w.Body.String())
		}
	}
	if svc.submitN != 0 {
		t.Fatal("service called despite validation failure")
	}
}

func TestCreateSongRequest_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{
			name:       "duplicate",
			err:        services.ErrDuplicateSong,
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeConflict,
		},
		{
			name:       "missing config",
			err:        &services.ConfigError{Missing: []string{"GH_TOKEN", "GH_REPO"}},
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeConfigMissing,
			wantDetail: "GH_TOKEN, GH_REPO",
		},
		{
			name:       "read failure",
			err:        &services.ReadError{Err: errors.New("api: 502 bad gateway")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeReadFailed,
			wantDetail: "502 bad gateway",
		},
		{
			name:       "write conflict",
			err:        &services.WriteError{Err: errors.New("sha mismatch"), Conflict: true},
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeWriteFailed,
			wantDetail: "sha mismatch",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternal,
			wantDetail: "boom",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{submitErr: tc.err}
			r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

			w := postJSON(r, `{"title":"Africa","artist":"Toto"}`, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}

			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if er.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", er.Code, tc.wantCode)
			}
			if tc.wantDetail != "" && !strings.Contains(er.Detail, tc.wantDetail) {
				t.Fatalf("detail = %q, want substring %q", er.Detail, tc.wantDetail)
			}
		})
	}
}

func TestCreateSongRequest_IdempotentReplay(t *testing.T) {
	rec := domain.NewSongRequest("Africa", "Toto", "00003", time.Now())
	svc := &stubService{submitRec: &rec}
	db := handlerDB(t)
	r := newTestRouter(t, svc, config.GitHubConfig{}, db)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "submit-1"}

	// First request hits the service and records the response.
	w := postJSON(r, `{"title":"Africa","artist":"Toto"}`, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("first: status = %d, body = %s", w.Code, w.Body.String())
	}
	firstBody := w.Body.String()
	if svc.submitN != 1 {
		t.Fatalf("submitN = %d", svc.submitN)
	}

	// Retry with the same key: served from the record, service untouched.
	w = postJSON(r, `{"title":"Africa","artist":"Toto"}`, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: status = %d", w.Code)
	}
	if svc.submitN != 1 {
		t.Fatalf("service called on replay: submitN = %d", svc.submitN)
	}
	if w.Body.String() != firstBody {
		t.Fatalf("replay body differs:\n%s\nvs\n%s", w.Body.String(), firstBody)
	}
}

func TestCreateSongRequest_FailureNotRecordedForReplay(t *testing.T) {
	svc := &stubService{submitErr: services.ErrDuplicateSong}
	db := handlerDB(t)
	r := newTestRouter(t, svc, config.GitHubConfig{}, db)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "submit-dup"}

	w := postJSON(r, `{"title":"Africa","artist":"Toto"}`, hdr)
	if w.Code != http.StatusConflict {
		t.Fatalf("first: status = %d", w.Code)
	}

	// A retry must reach the service again; 409s are not replayable.
	w = postJSON(r, `{"title":"Africa","artist":"Toto"}`, hdr)
	if w.Code != http.StatusConflict {
		t.Fatalf("retry: status = %d", w.Code)
	}
	if svc.submitN != 2 {
		t.Fatalf("submitN = %d, want 2", svc.submitN)
	}
}

func TestListSongRequests_PaginationAndETag(t *testing.T) {
	list := make([]domain.SongRequest, 0, 45)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 45; i++ {
		list = append(list, domain.NewSongRequest(
			fmt.Sprintf("Song %02d", i), "Artist", fmt.Sprintf("%05d", i+1), base))
	}
	svc := &stubService{listResult: list, listRev: "abc123"}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests?page=2&page_size=20", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	etag := w.Header().Get("ETag")
	if etag != `W/"songs:abc123"` {
		t.Fatalf("ETag = %q", etag)
	}

	var resp ListSongRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Requests) != 20 || resp.Requests[0].Code != "00021" {
		t.Fatalf("page 2 = %d items, first code %q", len(resp.Requests), resp.Requests[0].Code)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 20 || p.Total != 45 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("pagination = %+v", p)
	}

	// Conditional GET with the returned ETag is a 304.
	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d, want 304", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("304 carried a body: %s", w.Body.String())
	}
}

func TestListSongRequests_PageBeyondEnd(t *testing.T) {
	svc := &stubService{listResult: []domain.SongRequest{
		domain.NewSongRequest("One", "A", "00001", time.Now()),
	}, listRev: "r1"}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests?page=9", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListSongRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Requests) != 0 {
		t.Fatalf("expected empty page, got %d items", len(resp.Requests))
	}
}

func TestListSongRequests_ClampsPageSize(t *testing.T) {
	svc := &stubService{listResult: nil, listRev: ""}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests?page_size=5000", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListSongRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Pagination.PageSize != 100 {
		t.Fatalf("page_size = %d, want 100", resp.Pagination.PageSize)
	}
}

func TestListSongRequests_ReadFailure(t *testing.T) {
	svc := &stubService{listErr: &services.ReadError{Err: errors.New("api: timeout")}}
	r := newTestRouter(t, svc, config.GitHubConfig{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requests", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), ErrCodeReadFailed) {
		t.Fatalf("body = %s", w.Body.String())
	}
}
