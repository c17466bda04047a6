package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/speaklife/declarations/internal/schema"
)

func TestFileProviderFallsBackToBundledCatalog(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "catalog.yaml"))

	decls, err := p.Declarations(context.Background())
	if err != nil {
		t.Fatalf("Declarations failed: %v", err)
	}
	if len(decls) == 0 {
		t.Fatal("bundled catalog is empty")
	}
	for _, d := range decls {
		if d.ContentType != schema.ContentCatalog {
			t.Errorf("bundled declaration %q has content type %q", d.Text, d.ContentType)
		}
		if d.Owned() {
			t.Errorf("bundled declaration %q is tagged as owned", d.Text)
		}
	}
}

func TestFileProviderSaveRoundTrip(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "catalog.yaml"))
	ctx := context.Background()

	want := []schema.Declaration{
		{Text: "He restores my soul", Category: "peace", ContentType: schema.ContentCatalog, BibleVerseText: "Psalm 23:3"},
		{Text: "I am a new creation", Category: "identity", ContentType: schema.ContentCatalog},
	}
	if err := p.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := p.Declarations(ctx)
	if err != nil {
		t.Fatalf("Declarations failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d declarations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i].Text || got[i].Category != want[i].Category {
			t.Errorf("declaration %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHTTPProvider(t *testing.T) {
	payload := []schema.Declaration{
		{Text: "The joy of the Lord is my strength", Category: "faith"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	decls, err := p.Declarations(context.Background())
	if err != nil {
		t.Fatalf("Declarations failed: %v", err)
	}
	if len(decls) != 1 || decls[0].Text != payload[0].Text {
		t.Errorf("unexpected catalog: %+v", decls)
	}
	if decls[0].ContentType != schema.ContentCatalog {
		t.Errorf("missing content type default: %q", decls[0].ContentType)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	if _, err := p.Declarations(context.Background()); err == nil {
		t.Error("expected error for non-200 response")
	}

	if err := p.Save(context.Background(), nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}
