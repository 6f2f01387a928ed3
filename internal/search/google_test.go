package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", EngineID: "test-cx", BaseURL: srv.URL})
}

func TestQuery_ParsesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"title":"Go","link":"https://go.dev","snippet":"The Go language"},
			{"formattedUrl":"example.com/x","htmlSnippet":"<b>bold</b> text"}
		]}`)
	})

	got, err := c.Query(context.Background(), "golang", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := []Item{
		{Title: "Go", Link: "https://go.dev", Snippet: "The Go language"},
		{FormattedURL: "example.com/x", HTMLSnippet: "<b>bold</b> text"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Query() mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_RequestParameters(t *testing.T) {
	var gotQuery map[string]string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"key": q.Get("key"),
			"cx":  q.Get("cx"),
			"q":   q.Get("q"),
			"num": q.Get("num"),
			"lr":  q.Get("lr"),
			"hl":  q.Get("hl"),
		}
		fmt.Fprint(w, `{}`)
	})

	if _, err := c.Query(context.Background(), "tour eiffel hauteur", 3); err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := map[string]string{
		"key": "test-key",
		"cx":  "test-cx",
		"q":   "tour eiffel hauteur",
		"num": "3",
		"lr":  "lang_fr",
		"hl":  "fr",
	}
	if diff := cmp.Diff(want, gotQuery); diff != "" {
		t.Errorf("query parameters mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_CapsResultCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"title":"1"},{"title":"2"},{"title":"3"},{"title":"4"},{"title":"5"}]}`)
	})

	got, err := c.Query(context.Background(), "x", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestQuery_NoItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"searchInformation":{"totalResults":"0"}}`)
	})

	got, err := c.Query(context.Background(), "zzzz", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Query() = %#v, want empty non-nil slice", got)
	}
}

func TestQuery_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"API key not valid"}}`)
	})

	if _, err := c.Query(context.Background(), "x", 3); err == nil {
		t.Fatal("expected error on HTTP 403")
	}
}

func TestQuery_MalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [`)
	})

	if _, err := c.Query(context.Background(), "x", 3); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestQuery_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"items":[{"title":"ok"}]}`)
	})

	got, err := c.Query(context.Background(), "x", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "ok" {
		t.Errorf("Query() = %+v", got)
	}
	if n := attempt.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestQuery_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if _, err := c.Query(context.Background(), "x", 3); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := attempt.Load(); n != maxRetries {
		t.Errorf("attempts = %d, want %d", n, maxRetries)
	}
}

// TestQuery_Timeout verifies a hanging upstream fails within the configured
// timeout and leaves no goroutines behind.
func TestQuery_Timeout(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	c := NewClient(Config{APIKey: "k", EngineID: "cx", BaseURL: srv.URL, Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := c.Query(context.Background(), "x", 3)
	elapsed := time.Since(start)

	close(release)
	c.httpClient.CloseIdleConnections()
	srv.Close()

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Query took %v, want bounded by timeout", elapsed)
	}

	goleak.VerifyNone(t, ignore)
}

func TestIsConfigured(t *testing.T) {
	if !NewClient(Config{APIKey: "k", EngineID: "cx"}).IsConfigured() {
		t.Error("client with key and cx not configured")
	}
	if NewClient(Config{APIKey: "k"}).IsConfigured() {
		t.Error("client without cx reports configured")
	}
	if NewClient(Config{EngineID: "cx"}).IsConfigured() {
		t.Error("client without key reports configured")
	}
	var nilClient *Client
	if nilClient.IsConfigured() {
		t.Error("nil client reports configured")
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"<b>Tour</b> Eiffel &amp; co", "Tour Eiffel & co"},
		{"ligne 1<br>ligne 2", "ligne 1 ligne 2"},
		{"  <i>a</i>\n\n<i>b</i> ", "a b"},
		{"<b>unclosed", "unclosed"},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
