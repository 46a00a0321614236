// Package storage archives artifacts written by fetch operations into a blob
// store and announces them to downstream consumers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher digests files on disk.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Publisher pushes archive events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Artifact describes one archived file.
type Artifact struct {
	Kind        string    `json:"kind"`
	SourceURL   string    `json:"source_url,omitempty"`
	LocalPath   string    `json:"local_path"`
	URI         string    `json:"uri,omitempty"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// EventArtifactSaved is the publish kind used for archived artifacts.
const EventArtifactSaved = "artifact.saved"

// Archiver hashes local artifacts and optionally mirrors them to a blob store.
type Archiver struct {
	store     BlobStore
	hasher    Hasher
	publisher Publisher
	clock     Clock
	prefix    string
	logger    *zap.Logger
}

// ArchiverOption customizes an Archiver.
type ArchiverOption func(*Archiver)

// WithBlobStore mirrors artifacts to s.
func WithBlobStore(s BlobStore) ArchiverOption {
	return func(a *Archiver) { a.store = s }
}

// WithPublisher announces each archived artifact.
func WithPublisher(p Publisher) ArchiverOption {
	return func(a *Archiver) { a.publisher = p }
}

// WithPrefix roots object paths under prefix.
func WithPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) { a.prefix = strings.Trim(prefix, "/") }
}

// WithLogger sets the archiver logger.
func WithLogger(l *zap.Logger) ArchiverOption {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewArchiver builds an Archiver. Without a blob store artifacts stay local
// and only their digest is reported.
func NewArchiver(hasher Hasher, clock Clock, opts ...ArchiverOption) (*Archiver, error) {
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	a := &Archiver{hasher: hasher, clock: clock, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive digests the file at localPath and uploads it when a blob store is
// configured. The object path is <prefix>/<kind>/<yyyy>/<mm>/<dd>/<sha256><ext>.
func (a *Archiver) Archive(ctx context.Context, kind, sourceURL, localPath string) (Artifact, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		return Artifact{}, fmt.Errorf("artifact %s is a directory", localPath)
	}
	digest, err := a.hasher.HashFile(localPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("hash artifact: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	art := Artifact{
		Kind:        kind,
		SourceURL:   sourceURL,
		LocalPath:   localPath,
		SHA256:      digest,
		Size:        info.Size(),
		ContentType: contentType,
		ArchivedAt:  a.clock.Now(),
	}

	if a.store != nil {
		f, err := os.Open(localPath) //nolint:gosec // artifact path was produced by this process
		if err != nil {
			return Artifact{}, fmt.Errorf("open artifact: %w", err)
		}
		uri, err := a.store.PutObject(ctx, a.ObjectPath(kind, digest, ext, art.ArchivedAt), contentType, f)
		closeErr := f.Close()
		if err != nil {
			return Artifact{}, fmt.Errorf("put object: %w", err)
		}
		if closeErr != nil {
			a.logger.Warn("close artifact", zap.String("path", localPath), zap.Error(closeErr))
		}
		art.URI = uri
	}

	if a.publisher != nil {
		if _, err := a.publisher.Publish(ctx, EventArtifactSaved, art); err != nil {
			return art, fmt.Errorf("publish artifact: %w", err)
		}
	}
	a.logger.Info("artifact archived",
		zap.String("kind", kind),
		zap.String("url", sourceURL),
		zap.String("uri", art.URI),
		zap.String("sha256", digest),
	)
	return art, nil
}

// ObjectPath builds the blob path for an artifact.
func (a *Archiver) ObjectPath(kind, digest, ext string, at time.Time) string {
	p := fmt.Sprintf("%s/%s/%s%s", kind, at.UTC().Format("2006/01/02"), digest, ext)
	if a.prefix == "" {
		return p
	}
	return a.prefix + "/" + p
}
