// Package cache is the content-addressed store that lets clients skip
// uploading files the service has already seen.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Key returns the lower-case hex SHA-256 digest of the file at path.
func Key(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return KeyOf(f)
}

// KeyOf returns the lower-case hex SHA-256 digest of everything read from r.
func KeyOf(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ErrNotFound is returned by Get for keys the store does not hold.
var ErrNotFound = errors.New("cache entry not found")

// Store maps content keys to bytes.
type Store interface {
	Exists(key string) (bool, error)
	Put(key string, src io.Reader) error
	// Get returns ErrNotFound for an unknown key.
	Get(key string) (io.ReadCloser, error)
}

var _ Store = (*DiskStore)(nil)

// DiskStore keeps entries as files below root, sharded by the first two
// characters of the key.
type DiskStore struct {
	root string
}

// NewDiskStore returns a store rooted at root, creating it if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// validKey reports whether key has the shape KeyOf produces.
func validKey(key string) bool {
	if len(key) != sha256.Size*2 {
		return false
	}
	for _, c := range key {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (d *DiskStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(d.root, key[:2], key), nil
}

// Exists reports whether key is stored.
func (d *DiskStore) Exists(key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put stores src under key. Readers never observe a partial entry: the
// data goes to a temp file that is renamed into place.
func (d *DiskStore) Put(key string, src io.Reader) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("writing entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing entry %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("storing entry %s: %w", key, err)
	}
	return nil
}

// Get opens the entry stored under key.
func (d *DiskStore) Get(key string) (io.ReadCloser, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}
