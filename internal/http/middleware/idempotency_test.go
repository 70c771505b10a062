package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func idemEngine(lookup IdempotencyLookup, probe func(*gin.Context)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/submit", func(c *gin.Context) {
		if probe != nil {
			probe(c)
		}
		c.Status(http.StatusCreated)
	})
	return r
}

func postWithKey(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_NoHeaderIsNoop(t *testing.T) {
	var key string
	var present, replay bool
	r := idemEngine(nil, func(c *gin.Context) {
		key, present = GetIdempotencyKey(c)
		replay = IsReplay(c)
	})

	if w := postWithKey(r, ""); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if present || key != "" || replay {
		t.Fatalf("unexpected state: key=%q present=%v replay=%v", key, present, replay)
	}
}

func TestIdempotencyValidator_StashesValidKey(t *testing.T) {
	var key string
	var present bool
	r := idemEngine(nil, func(c *gin.Context) {
		key, present = GetIdempotencyKey(c)
	})

	if w := postWithKey(r, "order-42.retry:1"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if !present || key != "order-42.retry:1" {
		t.Fatalf("key = %q present = %v", key, present)
	}
}

func TestIdempotencyValidator_RejectsInvalidKeys(t *testing.T) {
	r := idemEngine(nil, nil)

	cases := []struct {
		name string
		key  string
	}{
		{"illegal characters", "has spaces"},
		{"non ascii", "clé"},
		{"too long", strings.Repeat("a", 201)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postWithKey(r, tc.key)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestIdempotencyValidator_LookupHitSetsReplayAndBypass(t *testing.T) {
	var gotClient, gotKey string
	lookup := func(_ context.Context, clientID, key string, _ time.Time) (bool, error) {
		gotClient, gotKey = clientID, key
		return true, nil
	}

	var replay, bypass bool
	r := idemEngine(lookup, func(c *gin.Context) {
		replay = IsReplay(c)
		bypass = IsRateBypass(c)
	})

	if w := postWithKey(r, "abc"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if !replay || !bypass {
		t.Fatalf("replay = %v bypass = %v, want both true", replay, bypass)
	}
	if gotClient != "ip:10.0.0.1" || gotKey != "abc" {
		t.Fatalf("lookup called with (%q, %q)", gotClient, gotKey)
	}
}

func TestIdempotencyValidator_LookupMissLeavesFlagsUnset(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		return false, nil
	}

	var replay bool
	r := idemEngine(lookup, func(c *gin.Context) { replay = IsReplay(c) })

	if w := postWithKey(r, "abc"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if replay {
		t.Fatal("replay flag set on lookup miss")
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		return false, errors.New("store offline")
	}

	r := idemEngine(lookup, nil)
	if w := postWithKey(r, "abc"); w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 despite lookup failure", w.Code)
	}
}

func TestIdempotencyValidator_CustomMaxLen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 8}, nil))
	r.POST("/submit", func(c *gin.Context) { c.Status(http.StatusCreated) })

	if w := postWithKey(r, "12345678"); w.Code != http.StatusCreated {
		t.Fatalf("at limit: status = %d", w.Code)
	}
	if w := postWithKey(r, "123456789"); w.Code != http.StatusBadRequest {
		t.Fatalf("over limit: status = %d, want 400", w.Code)
	}
}
