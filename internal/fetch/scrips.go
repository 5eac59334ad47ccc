package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"breakout-scanner/internal/session"
)

// DefaultMasterURL is Angel One's published instrument master, refreshed
// daily before market open.
const DefaultMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// ScripRecord is one option contract row from the instrument master,
// already converted: strike in paise, expiry as an IST date, option side
// split out of the trading symbol.
type ScripRecord struct {
	Token      string    `json:"token"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Expiry     time.Time `json:"expiry"`
	Strike     int64     `json:"strike"` // paise
	OptionType string    `json:"option_type"` // "CE" or "PE"
	LotSize    int       `json:"lot_size"`
}

// scripRow is the wire form of a master row. Numeric fields arrive as
// strings; strike is already in paise.
type scripRow struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"` // e.g. 30JAN2025
	Strike         string `json:"strike"` // e.g. 2400000.000000
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// ScripSource downloads the instrument master and serves the index-option
// rows for one underlying. The master runs to tens of megabytes, so rows
// are filtered during streaming decode and the survivors cached on disk;
// the cache is reused for the rest of the IST trading day.
type ScripSource struct {
	URL       string
	CachePath string       // optional; empty disables the disk cache
	Client    *http.Client // optional; defaulted with a generous timeout
}

// NewScripSource returns a source for the default master URL, caching
// filtered rows under dataDir.
func NewScripSource(url, dataDir, underlying string) *ScripSource {
	if url == "" {
		url = DefaultMasterURL
	}
	var cachePath string
	if dataDir != "" {
		cachePath = filepath.Join(dataDir, "scrips_"+underlying+".json")
	}
	return &ScripSource{URL: url, CachePath: cachePath}
}

// OptionRecords returns every OPTIDX contract for the named underlying on
// NFO, from the day's cache when fresh, otherwise from a fresh download.
func (s *ScripSource) OptionRecords(ctx context.Context, name string) ([]ScripRecord, error) {
	if records, ok := s.fromCache(); ok {
		return records, nil
	}

	records, err := s.download(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("scrip master has no NFO option rows for %q", name)
	}
	s.toCache(records)
	return records, nil
}

func (s *ScripSource) download(ctx context.Context, name string) ([]ScripRecord, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrip master download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrip master download: status %d", resp.StatusCode)
	}

	start := time.Now()
	dec := json.NewDecoder(resp.Body)
	if _, err := dec.Token(); err != nil { // opening '['
		return nil, fmt.Errorf("scrip master decode: %w", err)
	}

	var records []ScripRecord
	scanned := 0
	for dec.More() {
		var row scripRow
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("scrip master decode at row %d: %w", scanned, err)
		}
		scanned++
		if row.ExchSeg != "NFO" || row.Name != name || row.InstrumentType != "OPTIDX" {
			continue
		}
		rec, ok := convertRow(row)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	log.Printf("[fetch] scrip master: %d rows scanned, %d %s option contracts kept in %v",
		scanned, len(records), name, time.Since(start).Round(time.Millisecond))
	return records, nil
}

// convertRow parses the string-typed master fields. Rows that fail to
// parse are dropped; the master carries plenty of junk rows.
func convertRow(row scripRow) (ScripRecord, bool) {
	expiry, err := parseExpiry(row.Expiry)
	if err != nil {
		return ScripRecord{}, false
	}
	strikeF, err := strconv.ParseFloat(row.Strike, 64)
	if err != nil || strikeF <= 0 {
		return ScripRecord{}, false
	}
	var side string
	switch {
	case strings.HasSuffix(row.Symbol, "CE"):
		side = "CE"
	case strings.HasSuffix(row.Symbol, "PE"):
		side = "PE"
	default:
		return ScripRecord{}, false
	}
	lot, _ := strconv.Atoi(row.LotSize)

	return ScripRecord{
		Token:      row.Token,
		Symbol:     row.Symbol,
		Name:       row.Name,
		Expiry:     expiry,
		Strike:     int64(math.Round(strikeF)),
		OptionType: side,
		LotSize:    lot,
	}, true
}

var monthsByAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// parseExpiry reads the master's DDMMMYYYY dates ("30JAN2025") as IST
// calendar days.
func parseExpiry(s string) (time.Time, error) {
	if len(s) != 9 {
		return time.Time{}, fmt.Errorf("bad expiry %q", s)
	}
	day, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry day %q", s)
	}
	month, ok := monthsByAbbrev[strings.ToUpper(s[2:5])]
	if !ok {
		return time.Time{}, fmt.Errorf("bad expiry month %q", s)
	}
	year, err := strconv.Atoi(s[5:])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry year %q", s)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, session.IST), nil
}

// fromCache loads the filtered rows when the cache file was written
// earlier on the same IST day.
func (s *ScripSource) fromCache() ([]ScripRecord, bool) {
	if s.CachePath == "" {
		return nil, false
	}
	fi, err := os.Stat(s.CachePath)
	if err != nil || !session.SameSessionDay(fi.ModTime(), time.Now()) {
		return nil, false
	}
	data, err := os.ReadFile(s.CachePath)
	if err != nil {
		return nil, false
	}
	var records []ScripRecord
	if err := json.Unmarshal(data, &records); err != nil || len(records) == 0 {
		return nil, false
	}
	log.Printf("[fetch] scrip cache hit: %d contracts from %s", len(records), s.CachePath)
	return records, true
}

// toCache writes the filtered rows, best effort.
func (s *ScripSource) toCache(records []ScripRecord) {
	if s.CachePath == "" {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.CachePath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(s.CachePath, data, 0o644); err != nil {
		log.Printf("[fetch] scrip cache write failed: %v", err)
	}
}
