package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebFetchTool_Definition(t *testing.T) {
	t.Parallel()

	tool := WebFetchTool()

	if tool.Name != "web_fetch" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if tool.Destructive {
		t.Error("web_fetch must not be destructive")
	}
}

func TestWebFetchTool_Execute_MissingURL(t *testing.T) {
	t.Parallel()

	_, err := executeWebFetch(context.Background(), map[string]any{})
	if err == nil {
		t.Error("expected error for missing url")
	}
}

func TestWebFetchTool_Execute_HTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test Page</title></head>
<body><h1>Heading</h1><p>Some <strong>bold</strong> text.</p>
<script>ignore_me();</script></body></html>`))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{
		"url": srv.URL,
	})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}

	if !strings.Contains(result, "# Heading") {
		t.Errorf("expected markdown heading, got %q", result)
	}
	if !strings.Contains(result, "**bold") {
		t.Errorf("expected bold markers, got %q", result)
	}
	if strings.Contains(result, "ignore_me") {
		t.Errorf("script content should be stripped, got %q", result)
	}
}

func TestWebFetchTool_Execute_PlainTextPassthrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("raw text, not html"))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{
		"url": srv.URL,
	})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}

	if result != "raw text, not html" {
		t.Errorf("plain text should pass through, got %q", result)
	}
}

func TestWebFetchTool_Execute_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := executeWebFetch(context.Background(), map[string]any{
		"url": srv.URL,
	})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWebFetchTool_Execute_MaxLength(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	result, err := executeWebFetch(context.Background(), map[string]any{
		"url":        srv.URL,
		"max_length": float64(100),
	})
	if err != nil {
		t.Fatalf("executeWebFetch error: %v", err)
	}

	if !strings.Contains(result, "[...truncated...]") {
		t.Error("expected truncation marker")
	}
	if len(result) > 200 {
		t.Errorf("result not truncated: %d chars", len(result))
	}
}

func TestHTMLToMarkdown_Links(t *testing.T) {
	t.Parallel()

	md, err := htmlToMarkdown(`<p>See <a href="https://example.com">the docs</a>.</p>`, true)
	if err != nil {
		t.Fatalf("htmlToMarkdown error: %v", err)
	}
	if !strings.Contains(md, "[the docs") || !strings.Contains(md, "](https://example.com)") {
		t.Errorf("expected markdown link, got %q", md)
	}

	md, err = htmlToMarkdown(`<p>See <a href="https://example.com">the docs</a>.</p>`, false)
	if err != nil {
		t.Fatalf("htmlToMarkdown error: %v", err)
	}
	if strings.Contains(md, "](") {
		t.Errorf("links disabled, got %q", md)
	}
}

func TestHTMLToMarkdown_Lists(t *testing.T) {
	t.Parallel()

	md, err := htmlToMarkdown(`<ul><li>one</li><li>two</li></ul>`, true)
	if err != nil {
		t.Fatalf("htmlToMarkdown error: %v", err)
	}
	if !strings.Contains(md, "- one") || !strings.Contains(md, "- two") {
		t.Errorf("expected list items, got %q", md)
	}
}
