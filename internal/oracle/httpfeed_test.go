package oracle

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFeedSpotPriceRescalesToTickSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price":"27123.50"}`)
	}))
	defer srv.Close()

	f := NewHTTPFeed(nil)
	f.Register("BTC-USD", srv.URL, 1)

	ticks, err := f.SpotPrice("BTC-USD")
	if err != nil {
		t.Fatalf("SpotPrice: %v", err)
	}
	// price(27123.50) / (tickSize(1) * 1e-6) = 27_123_500_000
	if ticks != 27_123_500_000 {
		t.Fatalf("expected 27123500000 ticks, got %d", ticks)
	}
}

func TestHTTPFeedUnregisteredMarket(t *testing.T) {
	f := NewHTTPFeed(nil)
	if _, err := f.SpotPrice("NOPE-USD"); err == nil {
		t.Fatal("expected error for a market with no registered feed")
	}
}

func TestHTTPFeedNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFeed(nil)
	f.Register("BTC-USD", srv.URL, 1)

	if _, err := f.SpotPrice("BTC-USD"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestHTTPFeedMalformedPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price":"not-a-number"}`)
	}))
	defer srv.Close()

	f := NewHTTPFeed(nil)
	f.Register("BTC-USD", srv.URL, 1)

	if _, err := f.SpotPrice("BTC-USD"); err == nil {
		t.Fatal("expected error parsing a malformed price")
	}
}

func TestHTTPFeedRescalesByTickSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price":"100.00"}`)
	}))
	defer srv.Close()

	f := NewHTTPFeed(nil)
	f.Register("PENNY-USD", srv.URL, 5) // tick size scaled in units of 1e-6

	ticks, err := f.SpotPrice("PENNY-USD")
	if err != nil {
		t.Fatalf("SpotPrice: %v", err)
	}
	// price(100) / (tickSize(5) * 1e-6) = 20_000_000
	if ticks != 20_000_000 {
		t.Fatalf("expected 20000000 ticks, got %d", ticks)
	}
}
