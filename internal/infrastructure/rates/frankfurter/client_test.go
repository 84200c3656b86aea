package frankfurter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateToEURInvertsAndRounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2026-08-12" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("from"); got != "USD" {
			t.Errorf("from = %q", got)
		}
		if got := r.URL.Query().Get("to"); got != "EUR" {
			t.Errorf("to = %q", got)
		}
		_, _ = w.Write([]byte(`{"base":"USD","date":"2026-08-12","rates":{"EUR":0.9215}}`))
	}))
	defer server.Close()

	client := New(server.URL, nil)
	rate, err := client.RateToEUR(context.Background(), "2026-08-12", "usd")
	if err != nil {
		t.Fatalf("RateToEUR() error = %v", err)
	}
	// 1/0.9215 = 1.08518..., rounded to 4 decimals.
	if rate != 1.0852 {
		t.Fatalf("rate = %v, want 1.0852", rate)
	}
}

func TestRateToEURShortCircuitsEUR(t *testing.T) {
	client := New("http://unreachable.invalid", nil)
	rate, err := client.RateToEUR(context.Background(), "latest", "EUR")
	if err != nil {
		t.Fatalf("RateToEUR() error = %v", err)
	}
	if rate != 1 {
		t.Fatalf("rate = %v, want 1", rate)
	}
}

func TestRateToEURFailsOnMissingRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{}}`))
	}))
	defer server.Close()

	client := New(server.URL, nil)
	if _, err := client.RateToEUR(context.Background(), "latest", "USD"); err == nil {
		t.Fatalf("expected error")
	}
}
