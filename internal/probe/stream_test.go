package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func shortTimeout(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestProbeStreamOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sp := NewStreamProber(shortTimeout(2 * time.Second))
	res := sp.Probe(context.Background(), srv.URL+"/live/u/p/42.m3u8")

	if res.Status != StreamOnline {
		t.Fatalf("status = %s, want online (detail: %s)", res.Status, res.Detail)
	}
	if res.HTTPStatus != http.StatusOK {
		t.Errorf("http status = %d, want 200", res.HTTPStatus)
	}
	if res.ContentType != "application/vnd.apple.mpegurl" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if res.Latency <= 0 {
		t.Errorf("latency not recorded")
	}
}

func TestProbeStreamOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sp := NewStreamProber(shortTimeout(2 * time.Second))
	res := sp.Probe(context.Background(), srv.URL)

	if res.Status != StreamOffline {
		t.Fatalf("status = %s, want offline", res.Status)
	}
	if res.HTTPStatus != http.StatusNotFound {
		t.Errorf("http status = %d, want 404", res.HTTPStatus)
	}
}

func TestProbeStreamFollowsOneRedirect(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hop.Close()

	sp := NewStreamProber(shortTimeout(2 * time.Second))
	res := sp.Probe(context.Background(), hop.URL)

	if res.Status != StreamOnline {
		t.Fatalf("status = %s, want online after one redirect hop", res.Status)
	}
}

func TestProbeStreamStopsAfterSecondRedirect(t *testing.T) {
	var second *httptest.Server
	second = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, second.URL+"/again", http.StatusFound)
	}))
	defer second.Close()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, second.URL, http.StatusFound)
	}))
	defer first.Close()

	sp := NewStreamProber(shortTimeout(2 * time.Second))
	res := sp.Probe(context.Background(), first.URL)

	if res.Status != StreamOffline {
		t.Fatalf("status = %s, want offline when a second redirect appears", res.Status)
	}
}

func TestProbeStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	sp := NewStreamProber(shortTimeout(50 * time.Millisecond))
	res := sp.Probe(context.Background(), srv.URL)

	if res.Status != StreamTimeout {
		t.Fatalf("status = %s, want timeout (detail: %s)", res.Status, res.Detail)
	}
}

func TestProbeStreamMalformedURL(t *testing.T) {
	sp := NewStreamProber(shortTimeout(time.Second))
	for _, raw := range []string{"", "not-a-url", "ftp://example.test/x.ts", "://bad"} {
		res := sp.Probe(context.Background(), raw)
		if res.Status != StreamError {
			t.Errorf("Probe(%q) status = %s, want error", raw, res.Status)
		}
	}
}

func TestProbeStreamConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	sp := NewStreamProber(shortTimeout(time.Second))
	res := sp.Probe(context.Background(), url)

	if res.Status != StreamError {
		t.Fatalf("status = %s, want error for refused connection", res.Status)
	}
}
