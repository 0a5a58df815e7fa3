package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPDownloadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/price_history.json" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Write([]byte(`{"history":{},"metadata":{}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPOptions{BaseURL: srv.URL, Token: "secret"})
	data, err := c.Download(context.Background(), "price_history.json")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("empty payload")
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusNotFound, KindNotFound},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusConflict, KindConflict},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
		_, err := c.Download(context.Background(), "doc.json")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d should fail", tc.status)
		}
		if got := KindOf(err); got != tc.kind {
			t.Fatalf("status %d: got kind %s, want %s", tc.status, got, tc.kind)
		}
	}
}

func TestHTTPNotFoundMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
	_, err := c.Download(context.Background(), "missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPRetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
	_, err := c.Download(context.Background(), "doc.json")
	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limited, got %v", err)
	}
	if hint := RetryAfterHint(err); hint != 7*time.Second {
		t.Fatalf("expected 7s hint, got %s", hint)
	}
}

func TestHTTPUploadSendsTag(t *testing.T) {
	var gotTag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		gotTag = r.Header.Get("X-Upload-Tag")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
	if err := c.Upload(context.Background(), "doc.json", []byte(`{}`), "sync_1"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotTag != "sync_1" {
		t.Fatalf("tag not sent, got %q", gotTag)
	}
}

func TestMemoryClientRoundtrip(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()
	if _, err := c.Download(ctx, "doc.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Upload(ctx, "doc.json", []byte(`{"a":1}`), "t"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, err := c.Download(ctx, "doc.json")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", data)
	}
}

func TestMemoryClientScriptedFailures(t *testing.T) {
	c := NewMemoryClient()
	c.Put("doc.json", []byte(`{}`))
	c.FailDownload = []error{
		&Error{Kind: KindTransient, Path: "doc.json", Err: errors.New("boom")},
	}
	if _, err := c.Download(context.Background(), "doc.json"); !IsRetryable(err) {
		t.Fatalf("scripted failure should be retryable, got %v", err)
	}
	if _, err := c.Download(context.Background(), "doc.json"); err != nil {
		t.Fatalf("failure should be consumed: %v", err)
	}
}

func TestBuildFromDSN(t *testing.T) {
	if c, err := BuildFromDSN(""); err != nil || c != nil {
		t.Fatalf("empty DSN should yield nil client, got %v %v", c, err)
	}
	c, err := BuildFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory DSN: %v", err)
	}
	if _, ok := c.(*MemoryClient); !ok {
		t.Fatalf("expected memory client, got %T", c)
	}
	if c, err := BuildFromDSN("https://store.example.com/bucket"); err != nil {
		t.Fatalf("https DSN: %v", err)
	} else if _, ok := c.(*HTTPClient); !ok {
		t.Fatalf("expected HTTP client, got %T", c)
	}
	if c, err := BuildFromDSN("postgres://user:pw@localhost/db"); err != nil {
		t.Fatalf("postgres DSN: %v", err)
	} else if _, ok := c.(*PostgresClient); !ok {
		t.Fatalf("expected postgres client, got %T", c)
	}
	if _, err := BuildFromDSN("gopher://x"); err == nil {
		t.Fatalf("unsupported scheme should fail")
	}
}

func TestRegisteredFactoryWins(t *testing.T) {
	marker := NewMemoryClient()
	RegisterFactory("custom", func(dsn string) (Client, error) { return marker, nil })
	c, err := BuildFromDSN("custom://whatever")
	if err != nil {
		t.Fatalf("custom DSN: %v", err)
	}
	if c != marker {
		t.Fatalf("factory not used")
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := &Error{Kind: KindAuth, Path: "doc.json", Err: errors.New("denied")}
	if !errors.Is(err, &Error{Kind: KindAuth}) {
		t.Fatalf("kind prototype should match")
	}
	if errors.Is(err, &Error{Kind: KindConflict}) {
		t.Fatalf("different kinds must not match")
	}
	if IsRetryable(err) {
		t.Fatalf("auth failures are not retryable")
	}
}
