// Package files stores attachments owned by signed-in users.
package files

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkqr/internal/apperr"
)

// ErrNotFound is returned when the file does not exist for the owner.
var ErrNotFound = errors.New("files: not found")

// File is an attachment. Data is only populated by Get.
type File struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	FileName    string    `json:"file_name"`
	EventName   string    `json:"event_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Upload is the input to Store.
type Upload struct {
	FileName    string
	EventName   string
	ContentType string
	Data        []byte
}

// Repository persists files scoped by owner.
type Repository interface {
	Insert(ctx context.Context, f File) (File, error)
	List(ctx context.Context, ownerID string) ([]File, error)
	Get(ctx context.Context, ownerID, id string) (File, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// Service validates uploads and enforces ownership.
type Service struct {
	repo    Repository
	maxSize int64
}

// NewService creates a service; maxSize <= 0 disables the size check.
func NewService(repo Repository, maxSize int64) *Service {
	return &Service{repo: repo, maxSize: maxSize}
}

// Store saves an upload for owner.
func (s *Service) Store(ctx context.Context, ownerID string, up Upload) (File, error) {
	name := strings.TrimSpace(up.FileName)
	event := strings.TrimSpace(up.EventName)
	switch {
	case name == "" || event == "":
		return File{}, apperr.Validation("file name and event name are required")
	case len(up.Data) == 0:
		return File{}, apperr.Validation("file is empty")
	case s.maxSize > 0 && int64(len(up.Data)) > s.maxSize:
		return File{}, apperr.Validation("file exceeds %d bytes", s.maxSize)
	}
	ct := up.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(up.Data)
	}
	f, err := s.repo.Insert(ctx, File{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		FileName:    name,
		EventName:   event,
		ContentType: ct,
		Size:        int64(len(up.Data)),
		Data:        up.Data,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return File{}, apperr.Storage(err, "store file")
	}
	f.Data = nil
	return f, nil
}

// List returns owner's files without their contents.
func (s *Service) List(ctx context.Context, ownerID string) ([]File, error) {
	fs, err := s.repo.List(ctx, ownerID)
	if err != nil {
		return nil, apperr.Storage(err, "list files")
	}
	return fs, nil
}

// Get returns a file with its contents.
func (s *Service) Get(ctx context.Context, ownerID, id string) (File, error) {
	if _, err := uuid.Parse(id); err != nil {
		return File{}, apperr.NotFound("file not found")
	}
	f, err := s.repo.Get(ctx, ownerID, id)
	if errors.Is(err, ErrNotFound) {
		return File{}, apperr.NotFound("file not found")
	}
	if err != nil {
		return File{}, apperr.Storage(err, "get file")
	}
	return f, nil
}

// Delete removes a file.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("file not found")
	}
	err := s.repo.Delete(ctx, ownerID, id)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("file not found")
	}
	if err != nil {
		return apperr.Storage(err, "delete file")
	}
	return nil
}
