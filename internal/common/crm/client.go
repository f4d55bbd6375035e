// internal/common/crm/client.go
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"notify-engine/internal/common/logger"
)

// Contact is the resolver's answer for a recipient address.
type Contact struct {
	Exists      bool   `json:"exists"`
	DisplayName string `json:"displayName,omitempty"`
}

type cacheEntry struct {
	contact  Contact
	cachedAt time.Time
}

// Resolver looks up display names for recipient addresses. It is strictly
// best-effort: failures are logged and a non-existing contact is returned,
// never an error that could block admission.
type Resolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

func NewResolver(baseURL, apiKey string, cacheTTL time.Duration, log logger.Logger) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:   log.WithFields(map[string]interface{}{"component": "crm"}),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
	}
}

// Resolve returns the contact for a recipient address, consulting the cache
// first. Context cancellation and HTTP errors degrade to Exists=false.
func (r *Resolver) Resolve(ctx context.Context, address string) Contact {
	if c, ok := r.cached(address); ok {
		return c
	}

	reqURL := fmt.Sprintf("%s/contacts/by-address/%s", r.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		r.logger.Warn("contact lookup request build failed", map[string]interface{}{
			"error": err.Error(),
		})
		return Contact{}
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("contact lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return Contact{}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c := Contact{Exists: false}
		r.put(address, c)
		return c
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("contact lookup unexpected status", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return Contact{}
	}

	var c Contact
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		r.logger.Warn("contact lookup decode failed", map[string]interface{}{
			"error": err.Error(),
		})
		return Contact{}
	}

	r.put(address, c)
	return c
}

func (r *Resolver) cached(address string) (Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[address]
	if !ok || time.Since(entry.cachedAt) > r.cacheTTL {
		return Contact{}, false
	}
	return entry.contact, true
}

func (r *Resolver) put(address string, c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[address] = cacheEntry{contact: c, cachedAt: time.Now()}
}
