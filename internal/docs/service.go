// Package docs renders the operator documentation bundled with the node.
package docs

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

//go:embed content/*.adoc
var content embed.FS

// ErrNotFound is returned for a document that is not bundled.
var ErrNotFound = errors.New("document not found")

type Service struct {
	fsys  fs.FS
	cache map[string]string // filename -> html content
	mu    sync.RWMutex
}

// NewService serves the embedded documents.
func NewService() *Service {
	sub, err := fs.Sub(content, "content")
	if err != nil {
		panic(err)
	}
	return NewServiceFS(sub)
}

// NewServiceFS serves the .adoc files at the root of fsys.
func NewServiceFS(fsys fs.FS) *Service {
	return &Service{
		fsys:  fsys,
		cache: make(map[string]string),
	}
}

// GetDoc renders name to HTML. The .adoc extension is optional.
func (s *Service) GetDoc(ctx context.Context, name string) (string, error) {
	filename, err := docFilename(name)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	html, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok {
		return html, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := fs.ReadFile(s.fsys, filename)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html = output.String()
	s.mu.Lock()
	s.cache[filename] = html
	s.mu.Unlock()
	return html, nil
}

// ListDocs returns the bundled document names without extension.
func (s *Service) ListDocs() ([]string, error) {
	matches, err := fs.Glob(s.fsys, "*.adoc")
	if err != nil {
		return nil, err
	}
	docs := make([]string, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, strings.TrimSuffix(m, ".adoc"))
	}
	return docs, nil
}

func docFilename(name string) (string, error) {
	if name == "" || path.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	if !strings.HasSuffix(name, ".adoc") {
		name += ".adoc"
	}
	return name, nil
}
