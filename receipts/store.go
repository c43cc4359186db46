package receipts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

var ErrDocumentNotFound = errors.New("document not found")

type Document struct {
	Key string
	URL string
}

// DocumentStore keeps rendered receipts and hands out public links to them.
type DocumentStore interface {
	Put(ctx context.Context, content []byte) (Document, error)
	Open(ctx context.Context, key string) (string, error)
}

const docExt = ".pdf"

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore writes each document to <dir>/<key>.pdf.
type FileStore struct {
	dir     string
	baseURL string
	newKey  func() string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt dir: %w", err)
	}
	gen, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("init document keys: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), newKey: gen}, nil
}

func (s *FileStore) Put(ctx context.Context, content []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	key := s.newKey()
	path := filepath.Join(s.dir, key+docExt)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return Document{}, fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Document{}, fmt.Errorf("write document: %w", err)
	}
	return Document{Key: key, URL: s.baseURL + "/" + key + docExt}, nil
}

// Open returns the local path of a stored document. Keys may carry the
// ".pdf" suffix used in public links.
func (s *FileStore) Open(_ context.Context, key string) (string, error) {
	key = strings.TrimSuffix(key, docExt)
	if !validKey.MatchString(key) {
		return "", ErrDocumentNotFound
	}
	path := filepath.Join(s.dir, key+docExt)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrDocumentNotFound
		}
		return "", fmt.Errorf("stat document: %w", err)
	}
	return path, nil
}
