// Package dataflows holds primitives shared by every upstream client
// in the research pipeline: a content-addressed file cache and an
// exponential-backoff retry helper. These sit below the semantic
// Research Cache (internal/cache) — this cache is keyed on raw call
// parameters, not on (symbol, research_type).
package dataflows

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CacheManager is a file-based cache keyed by the md5 hash of the
// marshaled call parameters, with mtime-based TTL expiry.
type CacheManager struct {
	cacheDir     string
	ttl          time.Duration
	cacheEnabled bool
}

// NewCacheManager creates a cache manager rooted at cacheDir.
func NewCacheManager(cacheDir string, ttl time.Duration, cacheEnabled bool) *CacheManager {
	return &CacheManager{cacheDir: cacheDir, ttl: ttl, cacheEnabled: cacheEnabled}
}

func (cm *CacheManager) key(source, method string, params interface{}) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("%s_%s_%x.json", source, method, hash)
}

// Get reports whether a non-expired cache entry exists for the call
// and, if so, unmarshals it into result.
func (cm *CacheManager) Get(source, method string, params interface{}, result interface{}) bool {
	if !cm.cacheEnabled {
		return false
	}

	filePath := filepath.Join(cm.cacheDir, cm.key(source, method, params))

	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > cm.ttl {
		os.Remove(filePath)
		return false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, result) == nil
}

// Set stores data for the call, best-effort.
func (cm *CacheManager) Set(source, method string, params interface{}, data interface{}) error {
	if !cm.cacheEnabled {
		return nil
	}

	filePath := filepath.Join(cm.cacheDir, cm.key(source, method, params))
	if err := os.MkdirAll(cm.cacheDir, 0o755); err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, jsonData, 0o644)
}

// RetryConfig configures exponential-backoff retry.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig matches the spec's default retry budget: three
// attempts with exponential backoff up to 30s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry runs fn, retrying transient failures with exponential
// backoff. On exhaustion the last error is wrapped and returned; the
// caller is expected to treat this as upstream absence, not a fatal
// condition (spec §7 "Transient upstream failure").
func WithRetry(config *RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(config.BaseDelay) * pow(config.Multiplier, float64(attempt-1)))
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			time.Sleep(delay)
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// ValidateSymbol checks basic format. Membership in the configured
// DAX-40 set is enforced by the Market Data Provider, not here.
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if len(symbol) == 0 {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 12 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

// FormatDateRange renders a human-readable date range.
func FormatDateRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// SaveDataToFile persists data as indented JSON, creating parent dirs.
func SaveDataToFile(data interface{}, filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, jsonData, 0o644)
}

// LoadDataFromFile reads and unmarshals JSON from filePath.
func LoadDataFromFile(filePath string, result interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}
