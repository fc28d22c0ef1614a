// Package appconfig enumerates the configuration keys from spec §6.4
// behind a narrow ConfigProvider interface, following the teacher's
// mustEnv(key, default) idiom from install_candles.go's loadCfg().
package appconfig

import (
	"os"
	"strconv"
	"strings"
)

// ConfigProvider is the external collaborator from spec §6.5: Get(key,
// default) is the entire contract the pipeline depends on.
type ConfigProvider interface {
	Get(key, def string) string
}

// EnvProvider reads configuration from the process environment, falling
// back to the supplied default — the teacher's mustEnv, promoted to a
// reusable type instead of a package-level helper.
type EnvProvider struct{}

func (EnvProvider) Get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Config is the enumerated, typed view over spec §6.4's keys. Callers
// build one once in main via Load and thread it through constructors.
type Config struct {
	BaseURL        string
	DataDir        string
	MaxRetries     int
	BackoffFactor  float64
	WaitMin        float64 // seconds
	WaitMax        float64 // seconds
	CertRotation   int     // days
	StrictPinning  bool
	ExtractRetries int
	ExtractDelayMS int
	LoteSmall      int
	LoteMedium     int
	LoteLarge      int
	LoteMaxBytes   int64
	DBTimeoutSec   int
	CacheTTLSec    int
	CacheMaxSize   int
}

// Load builds a Config from a ConfigProvider, applying the defaults named
// in spec §6.4.
func Load(p ConfigProvider) Config {
	return Config{
		BaseURL:        p.Get("base_url", "https://bvmf.bmfbovespa.com.br/InstDados/SerHist"),
		DataDir:        p.Get("data_dir", "./data"),
		MaxRetries:     atoi(p.Get("max_retries", "5")),
		BackoffFactor:  atof(p.Get("backoff_factor", "2")),
		WaitMin:        atof(p.Get("wait_min", "1")),
		WaitMax:        atof(p.Get("wait_max", "3")),
		CertRotation:   atoi(p.Get("cert_rotation_days", "30")),
		StrictPinning:  p.Get("strict_pinning", "false") == "true",
		ExtractRetries: atoi(p.Get("extract_retries", "3")),
		ExtractDelayMS: atoi(p.Get("extract_retry_delay_ms", "500")),
		LoteSmall:      atoi(p.Get("db_lote_size_small", "500")),
		LoteMedium:     atoi(p.Get("db_lote_size_medium", "2000")),
		LoteLarge:      atoi(p.Get("db_lote_size_large", "5000")),
		LoteMaxBytes:   int64(atoi(p.Get("db_lote_max_bytes", "4000000"))),
		DBTimeoutSec:   atoi(p.Get("db_timeout", "30")),
		CacheTTLSec:    atoi(p.Get("cache_default_ttl", "60")),
		CacheMaxSize:   atoi(p.Get("cache_max_size", "1000")),
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
