package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey is returned when no provider credential is configured.
	ErrMissingAPIKey = errors.New("twelvedata: missing api key")
	// ErrAPI wraps a {"status":"error"} response envelope.
	ErrAPI = errors.New("twelvedata: api error")
)

type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetQuotes fetches point-in-time quotes for the given wire symbols in one
// request. The result is keyed by wire symbol; symbols the provider could not
// quote are absent.
func (c *RESTClient) GetQuotes(ctx context.Context, wireSymbols []string) (map[string]Quote, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if len(wireSymbols) == 0 {
		return map[string]Quote{}, nil
	}

	q := url.Values{}
	q.Set("symbol", strings.Join(wireSymbols, ","))
	q.Set("apikey", c.apiKey)
	q.Set("prepost", "true")
	endpoint := c.baseURL + "/quote?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("twelvedata http %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrAPI, envelope.Message)
	}

	out := make(map[string]Quote, len(wireSymbols))

	// A single symbol comes back as a bare quote object
	if len(wireSymbols) == 1 {
		var single QuoteResponse
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		if quote, ok := single.toQuote(); ok {
			out[wireSymbols[0]] = quote
		}
		return out, nil
	}

	var multi map[string]json.RawMessage
	if err := json.Unmarshal(body, &multi); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	for _, sym := range wireSymbols {
		raw, ok := multi[sym]
		if !ok {
			continue
		}
		var entry QuoteResponse
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if quote, ok := entry.toQuote(); ok {
			out[sym] = quote
		}
	}
	return out, nil
}
