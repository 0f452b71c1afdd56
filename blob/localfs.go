package blob

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"

	"3send.xyz/send/cidutil"
)

// LocalFS is a filesystem-backed blob store.
//
// Objects are keyed strictly by content id under a two-level fanout directory.
// A sidecar JSON file next to each object records the original filename,
// content type, and a hash of the access secret; the raw secret is never
// stored.
type LocalFS struct {
	root string
}

var _ Store = (*LocalFS)(nil)

// NewLocalFS constructs a blob store rooted at root, creating it if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if root == "" {
		return nil, errors.New("blob: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalFS{root: root}, nil
}

type sidecar struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	SecretHash  string `json:"secretHash"`
	Size        int64  `json:"size"`
	StoredAt    int64  `json:"storedAt"`
}

func (l *LocalFS) Put(ctx context.Context, r io.Reader, filename, contentType, accessSecret string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(l.root, ".incoming-*")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	// The temp file is removed on every path except a successful rename.
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return "", n, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", n, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", n, err
	}

	id, err := cidutil.FromSHA256Digest(h.Sum(nil))
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", n, err
	}
	contentID := id.String()

	path := l.pathFor(contentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return "", n, err
	}

	if _, err := os.Stat(path); err == nil {
		// Identical bytes already stored; idempotent success.
		_ = os.Remove(tmpPath)
		return contentID, n, nil
	}

	meta, err := json.Marshal(sidecar{
		Filename:    filename,
		ContentType: contentType,
		SecretHash:  hashSecret(accessSecret),
		Size:        n,
		StoredAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", n, err
	}
	if err := os.WriteFile(path+".meta.json", meta, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return "", n, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		_ = os.Remove(path + ".meta.json")
		return "", n, err
	}
	return contentID, n, nil
}

func (l *LocalFS) Get(ctx context.Context, contentID, accessSecret string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.pathFor(contentID)
	meta, err := os.ReadFile(path + ".meta.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(meta, &sc); err != nil {
		return nil, fmt.Errorf("blob: corrupt sidecar for %s: %w", contentID, err)
	}
	if subtle.ConstantTimeCompare([]byte(sc.SecretHash), []byte(hashSecret(accessSecret))) != 1 {
		return nil, ErrAccessDenied
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (l *LocalFS) Delete(ctx context.Context, contentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.pathFor(contentID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(path + ".meta.json"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *LocalFS) pathFor(contentID string) string {
	if len(contentID) < 2 {
		return filepath.Join(l.root, contentID)
	}
	return filepath.Join(l.root, contentID[:2], contentID)
}

func hashSecret(secret string) string {
	sum := sha3.Sum256([]byte("3send/blob-access/v1\x00" + secret))
	return hex.EncodeToString(sum[:])
}
