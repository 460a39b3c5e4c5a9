package crtsh

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
	// SourceName identifies crt.sh results in scan output
	SourceName = "crt.sh"

	defaultBaseURL = "https://crt.sh/"
)

// Entry is one certificate row from the crt.sh JSON output
type Entry struct {
	IssuerName string `json:"issuer_name"`
	CommonName string `json:"common_name"`
	NameValue  string `json:"name_value"`
	NotBefore  string `json:"not_before"`
	NotAfter   string `json:"not_after"`
}

// Client queries certificate transparency logs through crt.sh
type Client struct {
	httpClient  *resty.Client
	baseURL     string
	rateLimiter *utils.RateLimiter
	breaker     *utils.CircuitBreaker
}

// ClientConfig holds configuration for the crt.sh client
type ClientConfig struct {
	BaseURL       string
	RateLimit     int
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// OnBreakerStateChange observes circuit breaker transitions
	OnBreakerStateChange func(state string)
}

// NewClient creates a new crt.sh client
func NewClient(config *ClientConfig) *Client {
	client := resty.New()
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(config.RetryAttempts)
	client.SetRetryWaitTime(config.RetryDelay)
	client.SetRetryMaxWaitTime(config.RetryDelay * 2)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err == nil && r.StatusCode() >= http.StatusInternalServerError
	})
	client.SetHeaders(map[string]string{
		"Accept":     "application/json",
		"User-Agent": "SubARG/1.0",
	})

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient:  client,
		baseURL:     baseURL,
		rateLimiter: utils.NewRateLimiter(config.RateLimit, time.Minute),
		breaker: utils.NewCircuitBreaker(utils.CircuitBreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  5 * time.Minute,
			SuccessThreshold: 1,
			OnStateChange:    config.OnBreakerStateChange,
		}),
	}
}

// Name returns the source name
func (c *Client) Name() string {
	return SourceName
}

// Enumerate returns every name on certificates issued for *.target
func (c *Client) Enumerate(ctx context.Context, target string) ([]string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var entries []Entry
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = c.fetch(ctx, target)
		return err
	})
	if err != nil {
		return nil, err
	}

	names := ExtractNames(entries, target)
	logrus.WithFields(logrus.Fields{
		"tool":         SourceName,
		"target":       target,
		"certificates": len(entries),
		"names":        len(names),
	}).Debug("crt.sh lookup finished")

	return names, nil
}

func (c *Client) fetch(ctx context.Context, target string) ([]Entry, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("q", "%."+target).
		SetQueryParam("output", "json").
		Get(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query crt.sh for %s: %w", target, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned status %d for %s", resp.StatusCode(), target)
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crt.sh response for %s: %w", target, err)
	}

	return entries, nil
}

// ExtractNames splits name_value on newlines, strips wildcards, lowercases and keeps names mentioning target
func ExtractNames(entries []Entry, target string) []string {
	target = strings.ToLower(target)

	var names []string
	for _, entry := range entries {
		for _, name := range strings.Split(entry.NameValue, "\n") {
			name = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "*.", "")))
			if name != "" && strings.Contains(name, target) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Close stops the rate limiter
func (c *Client) Close() {
	c.rateLimiter.Stop()
}
