package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"capsule-vault/internal/domain/capsule"
	"capsule-vault/internal/repository"
	"capsule-vault/internal/storage"
	capsule_errors "capsule-vault/pkg/errors"
	"capsule-vault/pkg/logger"
)

// unlockDateLayout is what the upload form sends; RFC 3339 is accepted as a
// fallback for API callers.
const unlockDateLayout = "2006-01-02T15:04"

// BlobStore is the external collaborator holding the actual file bytes.
// Purging is two-phase; both calls must confirm before local state may change.
type BlobStore interface {
	Upload(ctx context.Context, body io.Reader, meta storage.UploadMetadata) (string, error)
	FetchStream(ctx context.Context, id string) (io.ReadCloser, int64, error)
	MoveToTrash(ctx context.Context, id string) error
	EmptyTrash(ctx context.Context) error
}

// ListingCache is the short-lived response cache for listings. It is cleared
// wholesale on every state-changing operation.
type ListingCache interface {
	GetListing(ctx context.Context, userID string, dest any) (bool, error)
	SetListing(ctx context.Context, userID string, value any) error
	Clear(ctx context.Context) error
}

// CapsuleService owns the capsule lifecycle: who may see a capsule, when, how
// many times, and when it is destroyed.
type CapsuleService struct {
	repo  repository.CapsuleRepository
	blobs BlobStore
	cache ListingCache
	log   *logger.Logger
}

func NewCapsuleService(repo repository.CapsuleRepository, blobs BlobStore, cache ListingCache, log *logger.Logger) *CapsuleService {
	return &CapsuleService{repo: repo, blobs: blobs, cache: cache, log: log}
}

type CreateInput struct {
	Content    io.Reader
	Filename   string
	MimeType   string
	FileSize   int64
	UploaderID string
	Recipients []string
	UnlockDate string
}

// CapsuleSummary is the list-view projection. It deliberately omits the
// recipient set and the uploader id.
type CapsuleSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadTime time.Time `json:"upload_time"`
	UnlockTime time.Time `json:"unlock_time"`
	Unlocked   bool      `json:"unlocked"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
}

// Outcome tags the result of an access check. Domain refusals are values, not
// errors, so callers handle every case explicitly.
type Outcome int

const (
	OutcomeAuthorized Outcome = iota
	OutcomeLocked
	OutcomeForbidden
	OutcomeNotFound
)

type FetchDecision struct {
	Outcome    Outcome
	Capsule    capsule.Capsule
	UnlockTime time.Time
}

type DownloadResult struct {
	Decision FetchDecision
	Content  io.ReadCloser
	Size     int64
}

// Create validates the upload, transfers the bytes to the blob store, and then
// persists the capsule with one download record per recipient. The capsule id
// is whatever identifier the blob store minted. The blob transfer happens
// before and outside the database transaction.
func (s *CapsuleService) Create(ctx context.Context, input CreateInput) (capsule.Capsule, error) {
	if input.UploaderID == "" {
		return capsule.Capsule{}, fmt.Errorf("%w: uploader id is required", capsule_errors.ErrInvalidInput)
	}
	if input.Filename == "" {
		return capsule.Capsule{}, fmt.Errorf("%w: filename is required", capsule_errors.ErrInvalidInput)
	}
	if input.Content == nil {
		return capsule.Capsule{}, fmt.Errorf("%w: file content is required", capsule_errors.ErrInvalidInput)
	}

	recipients := normalizeRecipients(input.UploaderID, input.Recipients)
	if len(recipients) == 0 {
		return capsule.Capsule{}, fmt.Errorf("%w: at least one recipient is required", capsule_errors.ErrInvalidInput)
	}

	unlockTime, err := parseUnlockDate(input.UnlockDate)
	if err != nil {
		return capsule.Capsule{}, err
	}

	id, err := s.blobs.Upload(ctx, input.Content, storage.UploadMetadata{
		Filename:    input.Filename,
		ContentType: input.MimeType,
		Size:        input.FileSize,
	})
	if err != nil {
		return capsule.Capsule{}, err
	}

	c := capsule.Capsule{
		ID:         id,
		Filename:   input.Filename,
		MimeType:   input.MimeType,
		FileSize:   input.FileSize,
		UploaderID: input.UploaderID,
		UploadTime: time.Now().UTC(),
		UnlockTime: unlockTime,
		ExpiryTime: unlockTime,
	}
	for _, userID := range recipients {
		c.Records = append(c.Records, capsule.DownloadRecord{
			CapsuleID: id,
			UserID:    userID,
		})
	}

	if err := s.repo.Create(ctx, &c); err != nil {
		return capsule.Capsule{}, err
	}
	s.clearCache(ctx)
	return c, nil
}

// List returns every capsule the user is a recipient of, newest first, served
// from the response cache when a fresh entry exists.
func (s *CapsuleService) List(ctx context.Context, userID string) ([]CapsuleSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", capsule_errors.ErrInvalidInput)
	}

	if s.cache != nil {
		var cached []CapsuleSummary
		if hit, err := s.cache.GetListing(ctx, userID, &cached); err == nil && hit {
			return cached, nil
		}
	}

	capsules, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	summaries := make([]CapsuleSummary, 0, len(capsules))
	for _, c := range capsules {
		summaries = append(summaries, CapsuleSummary{
			ID:         c.ID,
			Filename:   c.Filename,
			UploadTime: c.UploadTime,
			UnlockTime: c.UnlockTime,
			Unlocked:   c.IsUnlockedAt(now),
			FileSize:   c.FileSize,
			MimeType:   c.MimeType,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetListing(ctx, userID, summaries); err != nil {
			s.warnf("listing cache write failed: %v", err)
		}
	}
	return summaries, nil
}

// Fetch runs the access state machine for one request. The time gate is
// checked before recipient membership, so a locked capsule answers "locked"
// even to strangers; only the unlock timestamp is revealed.
func (s *CapsuleService) Fetch(ctx context.Context, capsuleID, userID string) (FetchDecision, error) {
	c, err := s.repo.GetByID(ctx, capsuleID)
	if err != nil {
		if errors.Is(err, capsule_errors.ErrNotFound) {
			return FetchDecision{Outcome: OutcomeNotFound}, nil
		}
		return FetchDecision{}, err
	}

	now := time.Now().UTC()
	if !c.IsUnlockedAt(now) {
		return FetchDecision{Outcome: OutcomeLocked, UnlockTime: c.UnlockTime}, nil
	}
	if !c.IsRecipient(userID) {
		return FetchDecision{Outcome: OutcomeForbidden}, nil
	}
	return FetchDecision{Outcome: OutcomeAuthorized, Capsule: c}, nil
}

// Download authorizes, opens the blob stream, and records the download. When
// this recipient was the last unconsumed one, the purge runs as a detached
// task: the downloader never waits on it and its failures are only logged.
func (s *CapsuleService) Download(ctx context.Context, capsuleID, userID string) (DownloadResult, error) {
	decision, err := s.Fetch(ctx, capsuleID, userID)
	if err != nil {
		return DownloadResult{}, err
	}
	if decision.Outcome != OutcomeAuthorized {
		return DownloadResult{Decision: decision}, nil
	}

	content, size, err := s.blobs.FetchStream(ctx, capsuleID)
	if err != nil {
		return DownloadResult{}, err
	}

	shouldDelete, err := s.repo.RecordDownload(ctx, capsuleID, userID)
	if err != nil {
		content.Close()
		return DownloadResult{}, err
	}
	s.clearCache(ctx)

	if shouldDelete {
		go func() {
			if err := s.purgeAndDelete(context.Background(), capsuleID); err != nil {
				s.warnf("detached purge of capsule %s failed: %v", capsuleID, err)
			}
		}()
	}

	return DownloadResult{Decision: decision, Content: content, Size: size}, nil
}

// Remove deletes a capsule on behalf of its uploader. Nobody else, recipients
// included, may delete explicitly.
func (s *CapsuleService) Remove(ctx context.Context, capsuleID, requesterID string) error {
	c, err := s.repo.GetByID(ctx, capsuleID)
	if err != nil {
		return err
	}
	if c.UploaderID != requesterID {
		return capsule_errors.ErrForbidden
	}
	return s.purgeAndDelete(ctx, capsuleID)
}

// SweepExpired purges every capsule whose expiry time has passed, undelivered
// recipients notwithstanding. One capsule's failure never aborts the sweep.
func (s *CapsuleService) SweepExpired(ctx context.Context) ([]string, error) {
	expired, err := s.repo.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, c := range expired {
		if err := s.purgeAndDelete(ctx, c.ID); err != nil {
			s.warnf("sweep: purge of expired capsule %s failed: %v", c.ID, err)
			continue
		}
		s.infof("sweep: expired capsule %s deleted", c.ID)
		deleted = append(deleted, c.ID)
	}
	return deleted, nil
}

// purgeAndDelete is the single deletion path. Remote purge first, both phases
// confirmed, then the local cascade delete. Any remote failure aborts with the
// upstream error and local state untouched.
func (s *CapsuleService) purgeAndDelete(ctx context.Context, capsuleID string) error {
	if err := s.blobs.MoveToTrash(ctx, capsuleID); err != nil {
		return err
	}
	if err := s.blobs.EmptyTrash(ctx); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, capsuleID); err != nil {
		return err
	}
	s.clearCache(ctx)
	return nil
}

func (s *CapsuleService) clearCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.warnf("response cache clear failed: %v", err)
	}
}

func (s *CapsuleService) infof(template string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(template, args...)
	}
}

func (s *CapsuleService) warnf(template string, args ...interface{}) {
	if s.log != nil {
		s.log.Warnf(template, args...)
	}
}

func normalizeRecipients(uploaderID string, recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients)+1)
	out := make([]string, 0, len(recipients)+1)
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return out
	}
	if _, ok := seen[uploaderID]; !ok {
		out = append(out, uploaderID)
	}
	return out
}

func parseUnlockDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: unlock date is required", capsule_errors.ErrInvalidInput)
	}
	if t, err := time.ParseInLocation(unlockDateLayout, value, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unlock date must be formatted as %s", capsule_errors.ErrInvalidInput, unlockDateLayout)
}
