package main

import (
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// BlobStore keeps uploaded images behind an opaque reference. Sessions never
// see image bytes, only the ref. Backed by an in-memory filesystem unless
// --data-dir points somewhere durable.
type BlobStore struct {
	fs afero.Fs
}

func newBlobStore(cfg *Config) *BlobStore {
	var fs afero.Fs
	if cfg.dataDir != "" {
		fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.dataDir)
	} else {
		fs = afero.NewMemMapFs()
	}
	_ = fs.MkdirAll("blobs", 0o755)
	return &BlobStore{fs: fs}
}

// Put stores the blob and returns its reference.
func (b *BlobStore) Put(r io.Reader, contentType string) (string, int64, error) {
	ref := uuid.NewString()

	f, err := b.fs.Create(path.Join("blobs", ref))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return "", 0, err
	}

	if contentType != "" {
		err = afero.WriteFile(b.fs, path.Join("blobs", ref+".type"), []byte(contentType), 0o644)
		if err != nil {
			return "", 0, err
		}
	}

	return ref, written, nil
}

// Get returns the blob bytes and content type for a reference.
func (b *BlobStore) Get(ref string) ([]byte, string, error) {
	data, err := afero.ReadFile(b.fs, path.Join("blobs", ref))
	if err != nil {
		return nil, "", err
	}

	contentType := "application/octet-stream"
	if raw, err := afero.ReadFile(b.fs, path.Join("blobs", ref+".type")); err == nil {
		contentType = string(raw)
	}

	return data, contentType, nil
}

// Delete removes a blob and its content-type marker.
func (b *BlobStore) Delete(ref string) {
	_ = b.fs.Remove(path.Join("blobs", ref))
	_ = b.fs.Remove(path.Join("blobs", ref+".type"))
}
