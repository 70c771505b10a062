// Package services – RequestService
//
// This file implements the append protocol for song requests against the
// remote document store: one read of the current file (content + revision
// token), an in-memory duplicate check and sequence-code assignment, and one
// conditional write guarded by the token. There is no retry on a lost race;
// the loser's request fails visibly and the caller resubmits.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/songsterhq/songster-backend/internal/config"
	"github.com/songsterhq/songster-backend/internal/domain"
	"github.com/songsterhq/songster-backend/internal/github"
)

// DocumentStore is the remote store contract required by RequestService.
// github.Client is the production implementation.
//
// Implementations must be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DocumentStore interface {
	// GetFile returns the current file content and revision token, or
	// github.ErrNotFound when the file does not exist yet.
	GetFile(ctx context.Context) (*github.File, error)
	// PutFile writes content conditionally on sha; empty sha means create.
	PutFile(ctx context.Context, content []byte, sha, message string) error
}

// RequestService orchestrates submits and reads of the song request list.
// It holds no cross-request state; every call reads the store fresh.
type RequestService struct {
	// Store is the remote document store client.
	Store DocumentStore
	// GitHub holds the store coordinates, checked for completeness on every
	// call so a misconfigured deployment fails with the exact missing names.
	GitHub config.GitHubConfig

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time
}

// NewRequestService constructs a RequestService bound to the given store.
func NewRequestService(store DocumentStore, gh config.GitHubConfig) *RequestService {
	return &RequestService{Store: store, GitHub: gh}
}

func (s *RequestService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// fetchList reads and decodes the stored list. A missing file yields an
// empty list with no revision token (the first write will be a create).
// Content that is not an array self-heals to an empty list; off-shape array
// elements are coerced or dropped individually. Either case logs a warning.
func (s *RequestService) fetchList(ctx context.Context) ([]domain.SongRequest, string, error) {
	f, err := s.Store.GetFile(ctx)
	if errors.Is(err, github.ErrNotFound) {
		return []domain.SongRequest{}, "", nil
	}
	if err != nil {
		return nil, "", &ReadError{Err: err}
	}

	list, warn := domain.DecodeList(f.Content)
	if warn != nil {
		log.Warn().
			Err(warn).
			Str("path", s.GitHub.Path).
			Int("kept", len(list)).
			Msg("stored song request file has malformed content")
	}
	return list, f.SHA, nil
}

// Submit validates the candidate, appends a uniquely coded record to the
// stored list, and returns the created record.
//
// Outcomes: ErrMissingFields, *ConfigError, *ReadError, ErrDuplicateSong,
// *WriteError (Conflict=true for a lost compare-and-swap), or the record.
// Exactly one remote read and, on the non-duplicate path, exactly one remote
// write are performed.
func (s *RequestService) Submit(ctx context.Context, title, artist string) (*domain.SongRequest, error) {
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)
	if title == "" || artist == "" {
		return nil, ErrMissingFields
	}
	if missing := s.GitHub.Missing(); len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	list, sha, err := s.fetchList(ctx)
	if err != nil {
		return nil, err
	}

	if dup := domain.FindDuplicate(list, title, artist); dup != nil {
		return nil, ErrDuplicateSong
	}

	rec := domain.NewSongRequest(title, artist, domain.NextCode(list), s.now())
	updated := append(append([]domain.SongRequest{}, list...), rec)

	message := fmt.Sprintf("chore: add song request %s - %s (%s)", rec.Title, rec.Artist, rec.Code)
	if err := s.Store.PutFile(ctx, domain.EncodeList(updated), sha, message); err != nil {
		var conflict *github.ConflictError
		return nil, &WriteError{Err: err, Conflict: errors.As(err, &conflict)}
	}
	return &rec, nil
}

// List returns the current stored list and its revision token (empty when
// the file does not exist yet). Read-only; the same self-healing decode
// rules as Submit apply.
func (s *RequestService) List(ctx context.Context) ([]domain.SongRequest, string, error) {
	if missing := s.GitHub.Missing(); len(missing) > 0 {
		return nil, "", &ConfigError{Missing: missing}
	}
	return s.fetchList(ctx)
}
