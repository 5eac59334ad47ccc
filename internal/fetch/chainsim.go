package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"breakout-scanner/internal/model"
)

// ChainsimFetcher polls the chain simulator's HTTP snapshot endpoint.
// Staging only: no credentials, no rate limiting, snapshots arrive fully
// assembled with interval volumes already diffed.
type ChainsimFetcher struct {
	url    string
	client *http.Client
}

// NewChainsimFetcher points at the simulator base URL, e.g.
// "http://localhost:9100".
func NewChainsimFetcher(baseURL string) *ChainsimFetcher {
	return &ChainsimFetcher{
		url:    strings.TrimRight(baseURL, "/") + "/snapshot",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *ChainsimFetcher) Fetch(ctx context.Context) (*model.MarketSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chainsim fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainsim fetch: status %d", resp.StatusCode)
	}

	var snap model.MarketSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("chainsim decode: %w", err)
	}
	if snap.Spot <= 0 || len(snap.Chain) == 0 {
		return nil, fmt.Errorf("chainsim returned empty snapshot")
	}
	return &snap, nil
}
