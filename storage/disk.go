// Package storage provides object storage for user uploads (avatars and
// message images) behind a small interface so the backing store can be
// swapped out.
package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// MaxUploadSize is the hard ceiling for a single upload.
const MaxUploadSize = 5 * 1024 * 1024

var (
	ErrTooLarge    = fmt.Errorf("upload exceeds %d bytes", MaxUploadSize)
	ErrInvalidPath = fmt.Errorf("invalid object path")
	ErrExists      = fmt.Errorf("object already exists")
)

// Store persists uploaded objects and returns a public URL for each.
type Store interface {
	// Upload writes the object at the given path. With upsert false an
	// existing object is an error.
	Upload(objectPath string, r io.Reader, upsert bool) (string, error)
	Remove(objectPath string) error
	Open(objectPath string) (io.ReadCloser, error)
}

// DiskStore keeps objects as plain files under a root directory and serves
// them under a base URL.
type DiskStore struct {
	root    string
	baseURL string
}

func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("could not create storage root: %w", err)
	}
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// cleanPath normalizes an object path and rejects anything escaping the
// root.
func (d *DiskStore) cleanPath(objectPath string) (string, error) {
	objectPath = strings.TrimLeft(objectPath, "/")
	if objectPath == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func (d *DiskStore) Upload(objectPath string, r io.Reader, upsert bool) (string, error) {
	cleaned, err := d.cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	target := filepath.Join(d.root, filepath.FromSlash(cleaned))
	if !upsert {
		if _, err := os.Stat(target); err == nil {
			return "", ErrExists
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if n > MaxUploadSize {
		return "", ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	return d.baseURL + "/" + cleaned, nil
}

func (d *DiskStore) Remove(objectPath string) error {
	cleaned, err := d.cleanPath(objectPath)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(d.root, filepath.FromSlash(cleaned)))
}

func (d *DiskStore) Open(objectPath string) (io.ReadCloser, error) {
	cleaned, err := d.cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(d.root, filepath.FromSlash(cleaned)))
}

// Root returns the directory objects live under, for static file serving.
func (d *DiskStore) Root() string {
	return d.root
}

// AvatarPath is the canonical object path for a user's avatar.
func AvatarPath(userId, ext string) string {
	return path.Join("avatars", userId+ext)
}

// MessageImagePath is the canonical object path for an image attached to a
// message, namespaced by sender and conversation.
func MessageImagePath(userId, conversationId, filename string) string {
	return path.Join("chat-images", userId, conversationId,
		fmt.Sprintf("%d-%s", time.Now().UnixMilli(), path.Base(filename)))
}
