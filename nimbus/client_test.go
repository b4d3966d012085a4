package nimbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:       baseURL,
		TokenURL:      baseURL + "/oauth/token",
		AccessToken:   "token-1",
		RefreshToken:  "refresh-1",
		RatePerMinute: 600000,
		RetryBackoff:  time.Millisecond,
		HTTPTimeout:   5 * time.Second,
	})
}

func TestFetchAll_PaginatesAndTracksWatermark(t *testing.T) {
	var pagesServed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoices" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("modified_since"); got != "2026-03-01T10:00:00Z" {
			t.Fatalf("expected normalized modified_since, got %q", got)
		}
		page := r.URL.Query().Get("page")
		pagesServed = append(pagesServed, page)
		switch page {
		case "1":
			fmt.Fprint(w, `{"invoices":[
				{"id":"inv-1","last_modified":"2026-03-02T08:00:00Z"},
				{"id":"inv-2","last_modified":"2026-03-05T09:30:00Z"}
			],"has_more":true}`)
		case "2":
			fmt.Fprint(w, `{"invoices":[
				{"id":"inv-3","last_modified":"2026-03-04T11:00:00Z"}
			],"has_more":false}`)
		default:
			t.Fatalf("unexpected page %s", page)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", "2026-03-01T10:00:00.123456789Z")
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("expected 3 records across pages, got %d", len(result.Records))
	}
	if len(pagesServed) != 2 {
		t.Fatalf("expected 2 pages fetched, got %v", pagesServed)
	}
	// The watermark is the maximum last_modified, not the last one seen.
	if result.MaxWatermark != "2026-03-05T09:30:00Z" {
		t.Fatalf("expected watermark 2026-03-05T09:30:00Z, got %q", result.MaxWatermark)
	}
}

func TestFetchAll_EmptySinceOmitsModifiedSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.URL.Query()["modified_since"]; present {
			t.Fatal("full fetch must not send modified_since")
		}
		fmt.Fprint(w, `{"invoices":[],"has_more":false}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", "")
	if err != nil {
		t.Fatalf("FetchAll error: %v", err)
	}
	if len(result.Records) != 0 || result.MaxWatermark != "" {
		t.Fatalf("expected empty result, got %d records, watermark %q", len(result.Records), result.MaxWatermark)
	}
}

func TestFetchAll_RejectsMalformedCursor(t *testing.T) {
	c := testClient("http://localhost:0")
	if _, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", "not-a-time"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestDo_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"invoices":[],"has_more":false}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", ""); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, calls)
	}
}

func TestDo_RefreshesOnceOn401(t *testing.T) {
	var refreshCalls int32
	var savedAccess, savedRefresh string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "refresh-1" {
			t.Fatalf("unexpected refresh form: %v", r.PostForm)
		}
		fmt.Fprint(w, `{"access_token":"token-2","refresh_token":"refresh-2","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if auth != "Bearer token-2" {
			t.Fatalf("unexpected authorization %q", auth)
		}
		fmt.Fprint(w, `{"invoices":[],"has_more":false}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv.URL)
	c.cfg.SaveTokens = func(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error {
		savedAccess, savedRefresh = accessToken, refreshToken
		return nil
	}

	if _, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", ""); err != nil {
		t.Fatalf("expected success after refresh, got %v", err)
	}
	if refreshCalls != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", refreshCalls)
	}
	if savedAccess != "token-2" || savedRefresh != "refresh-2" {
		t.Fatalf("refreshed tokens not persisted: %q %q", savedAccess, savedRefresh)
	}
}

func TestDo_SecondUnauthorizedFailsPermanently(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"token-2","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchAll(context.Background(), "/v1/invoices", "invoices", "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateInvoice_SetsIdempotencyKey(t *testing.T) {
	var gotKey, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/invoices" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		var body InvoicePush
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.CustomerId != "cust-1" {
			t.Fatalf("unexpected customer id %q", body.CustomerId)
		}
		fmt.Fprint(w, `{"id":"inv-new"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	raw, err := c.CreateInvoice(context.Background(), InvoicePush{
		CustomerId: "cust-1",
		Lines: []InvoiceLine{
			{Description: "widgets", Quantity: json.Number("2"), UnitPrice: json.Number("150.50")},
		},
	}, "idem-abc")
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
	if gotKey != "idem-abc" {
		t.Fatalf("expected idempotency key header, got %q", gotKey)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotContentType)
	}
	if !strings.Contains(string(raw), "inv-new") {
		t.Fatalf("unexpected response %s", raw)
	}
}

func TestCreateInvoice_RequiresIdempotencyKey(t *testing.T) {
	c := testClient("http://localhost:0")
	if _, err := c.CreateInvoice(context.Background(), InvoicePush{}, "  "); err == nil {
		t.Fatal("expected error without idempotency key")
	}
}
