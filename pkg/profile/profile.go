// Package profile stores user profile pictures in the object store.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tendant/simplebox/pkg/storage"
)

var (
	// ErrPictureNotFound is returned when a user has no profile picture
	ErrPictureNotFound = errors.New("profile picture not found")

	// ErrInvalidFilename is returned for filenames without a usable base name
	ErrInvalidFilename = errors.New("invalid filename")
)

// Service manages one profile picture per user.
type Service struct {
	store storage.BlobStore
}

// NewService creates a Service backed by store.
func NewService(store storage.BlobStore) *Service {
	return &Service{store: store}
}

// PicturePrefix returns the key prefix holding the picture of userID.
func PicturePrefix(userID uuid.UUID) string {
	return fmt.Sprintf("users/%s/profile_picture/", userID)
}

// PictureURL returns a download URL for the picture of userID.
func (s *Service) PictureURL(ctx context.Context, userID uuid.UUID) (string, error) {
	keys, err := s.store.List(ctx, PicturePrefix(userID))
	if err != nil {
		return "", fmt.Errorf("failed to list profile picture: %w", err)
	}
	if len(keys) == 0 {
		return "", ErrPictureNotFound
	}

	url, err := s.store.GetDownloadURL(ctx, keys[0], "")
	if err != nil {
		return "", fmt.Errorf("failed to get profile picture URL: %w", err)
	}
	return url, nil
}

// SetPicture replaces the picture of userID and returns the new object key.
func (s *Service) SetPicture(ctx context.Context, userID uuid.UUID, filename, mimeType string, r io.Reader) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	if err := s.DeletePicture(ctx, userID); err != nil {
		return "", err
	}

	key := PicturePrefix(userID) + base
	err := s.store.UploadWithParams(ctx, r, storage.UploadParams{
		ObjectKey: key,
		MimeType:  mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload profile picture: %w", err)
	}
	return key, nil
}

// DeletePicture removes any picture of userID.
func (s *Service) DeletePicture(ctx context.Context, userID uuid.UUID) error {
	keys, err := s.store.List(ctx, PicturePrefix(userID))
	if err != nil {
		return fmt.Errorf("failed to list profile picture: %w", err)
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("failed to delete profile picture: %w", err)
		}
	}
	return nil
}
