package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"llm-relay/pkg/utils"
)

// modelsPath is the fixed listing path appended to the endpoint base URL.
const modelsPath = "/models"

// ErrBadEndpoint is returned when the endpoint URL cannot be parsed.
var ErrBadEndpoint = errors.New("invalid endpoint URL")

// CatalogStore receives the refreshed model list. Replace swaps the entire
// catalog contents; the sync calls it at most once per refresh.
type CatalogStore interface {
	Replace(models []string)
}

// CatalogResult reports one refresh pass: whether any key produced a model
// list, how many models it carried, and which keys failed.
type CatalogResult struct {
	Success     bool            `json:"success"`
	ModelCount  int             `json:"model_count"`
	InvalidKeys []AttemptResult `json:"invalid_keys"`
}

// MemoryCatalog is a CatalogStore holding the latest model list in memory.
// Serve mode and the CLI read back what the last refresh produced.
type MemoryCatalog struct {
	mu     sync.RWMutex
	models []string
}

// Replace swaps the catalog contents.
func (c *MemoryCatalog) Replace(models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append([]string(nil), models...)
}

// Models returns a copy of the current catalog contents.
func (c *MemoryCatalog) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.models...)
}

// CatalogSync refreshes an external model catalog from the models-listing
// endpoint, trying each credential in list order.
type CatalogSync struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Refresh queries <endpoint>/models with each credential in turn. The first
// credential returning a non-empty model collection replaces the store's
// contents exactly once; the remaining credentials are still tried so every
// invalid key shows up in the diagnostics, but the store is not touched
// again. A 2xx response with an empty model list counts as a failure for
// that credential.
//
// The rotation cursor is not involved: catalog refresh is first-success-wins
// over the configured list order.
func (s *CatalogSync) Refresh(ctx context.Context, endpointURL, rawKeys string, store CatalogStore) (CatalogResult, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	listURL, err := normalizeListingURL(endpointURL)
	if err != nil {
		metricCatalogRefreshes.WithLabelValues("config_error").Inc()
		return CatalogResult{}, err
	}

	keys, _ := ParseKeys(rawKeys)
	if len(keys) == 0 {
		metricCatalogRefreshes.WithLabelValues("config_error").Inc()
		return CatalogResult{}, ErrNoAPIKeys
	}

	result := CatalogResult{InvalidKeys: []AttemptResult{}}

	for i, key := range keys {
		models, err := s.fetchModels(ctx, listURL, key)
		if err != nil {
			logger.Info("model listing failed",
				zap.String("key", utils.MaskToken(key)),
				zap.Error(err))
			result.InvalidKeys = append(result.InvalidKeys, AttemptResult{
				KeyIndex: i,
				Error:    errorText(err),
			})
			continue
		}

		if !result.Success {
			store.Replace(models)
			result.Success = true
			result.ModelCount = len(models)
			logger.Info("model catalog refreshed",
				zap.String("key", utils.MaskToken(key)),
				zap.Int("models", len(models)))
		}
	}

	if result.Success {
		metricCatalogRefreshes.WithLabelValues("success").Inc()
	} else {
		metricCatalogRefreshes.WithLabelValues("failure").Inc()
	}
	return result, nil
}

// normalizeListingURL trims a trailing slash from the endpoint base URL and
// appends the fixed listing path.
func normalizeListingURL(endpointURL string) (string, error) {
	if endpointURL == "" {
		return "", fmt.Errorf("%w: empty", ErrBadEndpoint)
	}
	u, err := url.ParseRequestURI(endpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBadEndpoint, endpointURL)
	}
	return strings.TrimSuffix(endpointURL, "/") + modelsPath, nil
}

// fetchModels performs one authenticated listing request and returns the
// model IDs. An empty collection is an error: a key that lists nothing
// cannot populate the catalog.
func (s *CatalogSync) fetchModels(ctx context.Context, listURL, key string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned error: %s - %s", resp.Status, string(body))
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to parse model listing: %w", err)
	}
	if len(listing.Data) == 0 {
		return nil, errors.New("model listing is empty")
	}

	models := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (s *CatalogSync) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
