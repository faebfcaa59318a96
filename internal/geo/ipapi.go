package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const ipAPIBaseURL = "http://ip-api.com/json"

// IPAPILocator resolves IPs through the ip-api.com JSON endpoint.
type IPAPILocator struct {
	baseURL string
	http    *http.Client
}

// NewIPAPILocator creates a locator. baseURL may be empty for the public
// endpoint; tests point it at a local server.
func NewIPAPILocator(baseURL string, timeout time.Duration) *IPAPILocator {
	if baseURL == "" {
		baseURL = ipAPIBaseURL
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &IPAPILocator{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (l *IPAPILocator) Locate(ctx context.Context, ip string) (string, error) {
	url := fmt.Sprintf("%s/%s?fields=status,countryCode", l.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build geoip request: %w", err)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geoip request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geoip service returned status %d", resp.StatusCode)
	}

	var body struct {
		Status      string `json:"status"`
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode geoip response: %w", err)
	}
	if body.Status != "success" || body.CountryCode == "" {
		return "", fmt.Errorf("geoip lookup failed for %s", ip)
	}
	return body.CountryCode, nil
}
