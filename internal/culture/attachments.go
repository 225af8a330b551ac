package culture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/PolarisBioLab/stemtrack/internal/blob"
)

// AttachImage stores an image for an entry and patches attachment_key to the
// minted blob key. Repeated uploads mint fresh keys; the superseded blob is
// left in the store and only drops out of the row reference.
func (s *Service) AttachImage(ctx context.Context, id int64, filename, contentType string, reader io.Reader) (LogEntry, blob.Info, error) {
	if s.blobs == nil {
		return LogEntry{}, blob.Info{}, newServiceError(opAttachImage, "no_blob_store", ErrNoBlobStore)
	}
	if _, err := s.GetEntry(ctx, id); err != nil {
		return LogEntry{}, blob.Info{}, err
	}

	blobID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAttachImage, "id_generation_failed", err)
		return LogEntry{}, blob.Info{}, newServiceError(opAttachImage, "id_generation_failed", err)
	}
	key := fmt.Sprintf("images/%d/%s%s", id, blobID, strings.ToLower(path.Ext(filename)))

	info, err := s.blobs.Put(ctx, key, reader, blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"filename": path.Base(filename),
			"entry_id": strconv.FormatInt(id, 10),
		},
	})
	if err != nil {
		s.logError(opAttachImage, "store_failed", err)
		return LogEntry{}, blob.Info{}, newServiceError(opAttachImage, "store_failed", err)
	}

	entry, err := s.Patch(ctx, id, map[string]any{"attachment_key": key}, "")
	if err != nil {
		return LogEntry{}, blob.Info{}, err
	}
	return entry, info, nil
}

// OpenImage streams the entry's stored image. The caller owns the reader.
func (s *Service) OpenImage(ctx context.Context, id int64) (blob.Info, io.ReadCloser, error) {
	if s.blobs == nil {
		return blob.Info{}, nil, newServiceError(opOpenImage, "no_blob_store", ErrNoBlobStore)
	}
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return blob.Info{}, nil, err
	}
	if strings.TrimSpace(entry.AttachmentKey) == "" {
		return blob.Info{}, nil, newServiceError(opOpenImage, "no_attachment", ErrNoAttachment)
	}

	info, reader, err := s.blobs.Get(ctx, entry.AttachmentKey)
	if errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, nil, newServiceError(opOpenImage, "blob_missing", err)
	}
	if err != nil {
		s.logError(opOpenImage, "read_failed", err)
		return blob.Info{}, nil, newServiceError(opOpenImage, "read_failed", err)
	}
	return info, reader, nil
}
