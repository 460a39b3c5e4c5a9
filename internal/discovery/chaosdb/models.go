package chaosdb

import (
	"time"
)

// ChaosDBResponse represents a ChaosDB subdomains response. Subdomains are bare labels.
type ChaosDBResponse struct {
	Domain     string   `json:"domain"`
	Subdomains []string `json:"subdomains"`
	Count      int      `json:"count"`
}

// ChaosDBError represents a ChaosDB API error
type ChaosDBError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DiscoveryResult represents a discovery result with fully qualified hosts
type DiscoveryResult struct {
	Domain       string    `json:"domain"`
	Subdomains   []string  `json:"subdomains"`
	Count        int       `json:"count"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
