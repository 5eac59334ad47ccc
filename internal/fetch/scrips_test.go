package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const masterFixture = `[
 {"token":"43125","symbol":"NIFTY28JAN2522000CE","name":"NIFTY","expiry":"28JAN2025","strike":"2200000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"43126","symbol":"NIFTY28JAN2522000PE","name":"NIFTY","expiry":"28JAN2025","strike":"2200000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"51220","symbol":"BANKNIFTY28JAN2548000CE","name":"BANKNIFTY","expiry":"28JAN2025","strike":"4800000.000000","lotsize":"15","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"2885","symbol":"RELIANCE-EQ","name":"RELIANCE","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE"},
 {"token":"35415","symbol":"NIFTY30JAN25FUT","name":"NIFTY","expiry":"30JAN2025","strike":"-1.000000","lotsize":"75","instrumenttype":"FUTIDX","exch_seg":"NFO"}
]`

func TestOptionRecordsFiltersMaster(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(masterFixture))
	}))
	defer srv.Close()

	src := &ScripSource{URL: srv.URL}
	records, err := src.OptionRecords(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("OptionRecords: %v", err)
	}
	if hits != 1 {
		t.Errorf("master fetched %d times, want 1", hits)
	}
	if len(records) != 2 {
		t.Fatalf("kept %d records, want the 2 NIFTY options", len(records))
	}
	for _, rec := range records {
		if rec.Name != "NIFTY" || rec.Strike != 2200000 {
			t.Errorf("unexpected record kept: %+v", rec)
		}
	}
	if records[0].OptionType == records[1].OptionType {
		t.Error("expected one CE and one PE record")
	}
}

func TestOptionRecordsUsesDayCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(masterFixture))
	}))
	defer srv.Close()

	src := NewScripSource(srv.URL, t.TempDir(), "NIFTY")

	first, err := src.OptionRecords(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("first OptionRecords: %v", err)
	}
	second, err := src.OptionRecords(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("second OptionRecords: %v", err)
	}
	if hits != 1 {
		t.Errorf("master fetched %d times, want cache hit on the second call", hits)
	}
	if len(first) != len(second) {
		t.Errorf("cache returned %d records, download returned %d", len(second), len(first))
	}

	// A cache file from a previous session day forces a fresh download.
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(src.CachePath, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := src.OptionRecords(context.Background(), "NIFTY"); err != nil {
		t.Fatalf("third OptionRecords: %v", err)
	}
	if hits != 2 {
		t.Errorf("master fetched %d times, want stale cache bypassed", hits)
	}
}

func TestOptionRecordsDownloadErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		src := &ScripSource{URL: srv.URL}
		if _, err := src.OptionRecords(context.Background(), "NIFTY"); err == nil {
			t.Fatal("expected error on 502")
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"token":"43125","symbol":"NIF`))
		}))
		defer srv.Close()
		src := &ScripSource{URL: srv.URL}
		if _, err := src.OptionRecords(context.Background(), "NIFTY"); err == nil {
			t.Fatal("expected decode error on truncated master")
		}
	})
}

func TestNewScripSourceCachePath(t *testing.T) {
	src := NewScripSource("", "/var/lib/scanner", "NIFTY")
	if src.URL != DefaultMasterURL {
		t.Errorf("url = %q", src.URL)
	}
	want := filepath.Join("/var/lib/scanner", "scrips_NIFTY.json")
	if src.CachePath != want {
		t.Errorf("cache path = %q, want %q", src.CachePath, want)
	}
}
