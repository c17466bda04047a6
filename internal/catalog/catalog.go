// Package catalog sources the read-only, non-owned declaration content
// that the facade merges with owned records at read time. Catalog content
// is never written to the record store.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/speaklife/declarations/internal/schema"
)

// ErrReadOnly is returned by providers that cannot persist declarations.
var ErrReadOnly = errors.New("catalog is read-only")

// Provider serves non-owned declarations.
type Provider interface {
	// Declarations returns the catalog content.
	Declarations(ctx context.Context) ([]schema.Declaration, error)
	// Save persists the given non-owned declarations, replacing the
	// previous set. Read-only providers return ErrReadOnly.
	Save(ctx context.Context, decls []schema.Declaration) error
}

//go:embed default.yaml
var defaultCatalog []byte

type catalogFile struct {
	Declarations []schema.Declaration `yaml:"declarations"`
}

// FileProvider serves the catalog from a YAML file, falling back to the
// bundled default catalog when the file does not exist yet.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider over the given YAML file path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Declarations implements Provider.
func (p *FileProvider) Declarations(_ context.Context) ([]schema.Declaration, error) {
	data, err := os.ReadFile(p.path) // #nosec G304 - path comes from config
	if os.IsNotExist(err) {
		data = defaultCatalog
	} else if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i := range file.Declarations {
		if file.Declarations[i].ContentType == "" {
			file.Declarations[i].ContentType = schema.ContentCatalog
		}
	}
	return file.Declarations, nil
}

// Save implements Provider with an atomic replace of the catalog file.
func (p *FileProvider) Save(_ context.Context, decls []schema.Declaration) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(catalogFile{Declarations: decls}); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish catalog encoding: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write catalog temp file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace catalog file: %w", err)
	}
	return nil
}

// HTTPProvider serves the catalog from a remote JSON endpoint. Read-only.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider that fetches the catalog from url.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Declarations implements Provider.
func (p *HTTPProvider) Declarations(ctx context.Context) ([]schema.Declaration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch returned %s", resp.Status)
	}

	var decls []schema.Declaration
	if err := json.NewDecoder(resp.Body).Decode(&decls); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	for i := range decls {
		if decls[i].ContentType == "" {
			decls[i].ContentType = schema.ContentCatalog
		}
	}
	return decls, nil
}

// Save implements Provider.
func (p *HTTPProvider) Save(context.Context, []schema.Declaration) error {
	return ErrReadOnly
}
