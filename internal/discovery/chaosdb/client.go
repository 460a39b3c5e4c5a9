package chaosdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/utils"
)

const (
	// SourceName identifies Chaos results in scan output
	SourceName = "chaos"

	defaultBaseURL = "https://dns.projectdiscovery.io/dns"
)

// Client represents a ChaosDB API client
type Client struct {
	httpClient  *resty.Client
	baseURL     string
	rateLimiter *utils.RateLimiter
}

// ClientConfig holds configuration for the ChaosDB client
type ClientConfig struct {
	APIKey        string
	BaseURL       string
	RateLimit     int
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewClient creates a new ChaosDB client
func NewClient(config *ClientConfig) *Client {
	client := resty.New()
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(config.RetryAttempts)
	client.SetRetryWaitTime(config.RetryDelay)
	client.SetRetryMaxWaitTime(config.RetryDelay * 2)

	client.SetHeaders(map[string]string{
		"Accept":     "application/json",
		"User-Agent": "SubARG/1.0",
	})

	if config.APIKey != "" {
		client.SetHeader("Authorization", config.APIKey)
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient:  client,
		baseURL:     baseURL,
		rateLimiter: utils.NewRateLimiter(config.RateLimit, time.Minute),
	}
}

// Name returns the source name
func (c *Client) Name() string {
	return SourceName
}

// Enumerate returns the fully qualified subdomains Chaos knows for target
func (c *Client) Enumerate(ctx context.Context, target string) ([]string, error) {
	result, err := c.DiscoverDomain(ctx, target)
	if err != nil {
		return nil, err
	}
	return result.Subdomains, nil
}

// DiscoverDomain discovers subdomains for a single domain
func (c *Client) DiscoverDomain(ctx context.Context, domain string) (*DiscoveryResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	cleanDomain := utils.ExtractHost(domain)
	if cleanDomain == "" {
		return nil, fmt.Errorf("failed to extract domain from %s", domain)
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("domain", cleanDomain).
		Get(c.baseURL + "/{domain}/subdomains")

	if err != nil {
		return nil, fmt.Errorf("failed to make request for domain %s: %w", cleanDomain, err)
	}

	if resp.StatusCode() != http.StatusOK {
		var errorResp ChaosDBError
		if err := json.Unmarshal(resp.Body(), &errorResp); err == nil && errorResp.Message != "" {
			return nil, fmt.Errorf("ChaosDB API error for domain %s: %s", cleanDomain, errorResp.Message)
		}
		return nil, fmt.Errorf("ChaosDB API returned status %d for domain %s", resp.StatusCode(), cleanDomain)
	}

	var chaosResp ChaosDBResponse
	if err := json.Unmarshal(resp.Body(), &chaosResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response for domain %s: %w", cleanDomain, err)
	}

	subdomains := make([]string, 0, len(chaosResp.Subdomains))
	for _, label := range chaosResp.Subdomains {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		subdomains = append(subdomains, label+"."+cleanDomain)
	}

	result := &DiscoveryResult{
		Domain:       cleanDomain,
		Subdomains:   subdomains,
		Count:        len(subdomains),
		DiscoveredAt: time.Now(),
	}

	logrus.Infof("Discovered %d subdomains for domain %s", result.Count, cleanDomain)
	return result, nil
}

// Close stops the rate limiter
func (c *Client) Close() {
	c.rateLimiter.Stop()
}
