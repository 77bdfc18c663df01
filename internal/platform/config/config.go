// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development default; production overrides
// via env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the GNS core service.
type Config struct {
	Server      Server
	Postgres    Postgres
	Redis       Redis
	Kafka       Kafka
	Attestation Attestation
	Epoch       Epoch
	Payment     Payment
	GeoAuth     GeoAuth
	Settlement  Settlement
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	AdminToken string
}

// Postgres holds the connection string for the persistent store. Empty means
// run on in-memory stores (development mode).
type Postgres struct {
	URL string
}

// Redis holds rate-limit connection settings. Empty URL disables Redis and
// falls back to in-process limiters.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit event pipeline. Empty brokers disables
// publishing; events still land in the outbox table.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Attestation tunes chain admission control.
type Attestation struct {
	// MinInterval rejects a second attestation from the same identity inside
	// this window, independent of the velocity check.
	MinInterval time.Duration
	// MaxSpeedKmh is the velocity guard's plausibility ceiling.
	MaxSpeedKmh float64
	// HighSeverityMultiple scales severity: implied speed beyond
	// MaxSpeedKmh*multiple is flagged high.
	HighSeverityMultiple float64
}

// Epoch tunes the aggregator schedule and signing.
type Epoch struct {
	Interval time.Duration
	// SigningKeySeed is the hex-encoded Ed25519 seed for countersigning epoch
	// headers. Generated at startup when empty (development).
	SigningKeySeed string
}

// Payment tunes the intent protocol.
type Payment struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// MinTrustScore gates intent creation on sender trust.
	MinTrustScore float64
}

// GeoAuth tunes point-of-sale sessions.
type GeoAuth struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// EnvelopeKeySeed is the hex-encoded Ed25519 seed used to sign
	// authorization envelopes. Generated at startup when empty.
	EnvelopeKeySeed string
}

// Settlement configures batching and the settlement network client.
type Settlement struct {
	HorizonURL        string
	NetworkPassphrase string
	AssetCode         string
	AssetIssuer       string
	RequestTimeout    time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	FeePercent        float64
}

// FromEnv builds the full configuration from the environment.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:       getEnv("GNS_ADDR", ":8080"),
			AdminToken: os.Getenv("GNS_ADMIN_TOKEN"),
		},
		Postgres: Postgres{
			URL: os.Getenv("GNS_POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("GNS_REDIS_URL"),
			PoolSize:     getEnvInt("GNS_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("GNS_REDIS_MIN_IDLE", 2),
			DialTimeout:  getEnvDuration("GNS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("GNS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("GNS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("GNS_KAFKA_BROKERS")),
			Topic:   getEnv("GNS_KAFKA_AUDIT_TOPIC", "gns.audit.events"),
		},
		Attestation: Attestation{
			MinInterval:          getEnvDuration("GNS_ATTESTATION_MIN_INTERVAL", 30*time.Second),
			MaxSpeedKmh:          getEnvFloat("GNS_MAX_SPEED_KMH", 1000),
			HighSeverityMultiple: getEnvFloat("GNS_HIGH_SEVERITY_MULTIPLE", 5),
		},
		Epoch: Epoch{
			Interval:       getEnvDuration("GNS_EPOCH_INTERVAL", time.Hour),
			SigningKeySeed: os.Getenv("GNS_EPOCH_SIGNING_SEED"),
		},
		Payment: Payment{
			DefaultTTL:    getEnvDuration("GNS_PAYMENT_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("GNS_PAYMENT_SWEEP_INTERVAL", time.Minute),
			MinTrustScore: getEnvFloat("GNS_PAYMENT_MIN_TRUST", 40),
		},
		GeoAuth: GeoAuth{
			DefaultTTL:      getEnvDuration("GNS_GEOAUTH_TTL", 5*time.Minute),
			SweepInterval:   getEnvDuration("GNS_GEOAUTH_SWEEP_INTERVAL", 30*time.Second),
			EnvelopeKeySeed: os.Getenv("GNS_GEOAUTH_ENVELOPE_SEED"),
		},
		Settlement: Settlement{
			HorizonURL:        getEnv("GNS_HORIZON_URL", "https://horizon-testnet.stellar.org"),
			NetworkPassphrase: getEnv("GNS_NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
			AssetCode:         getEnv("GNS_ASSET_CODE", "GNS"),
			AssetIssuer:       getEnv("GNS_ASSET_ISSUER", "GBVZTFST4PIPV5C3APDIVULNZYZENQSLGDSOKOVQI77GSMT6WVYGF5GL"),
			RequestTimeout:    getEnvDuration("GNS_SETTLEMENT_TIMEOUT", 10*time.Second),
			MaxAttempts:       getEnvInt("GNS_SETTLEMENT_MAX_ATTEMPTS", 3),
			BackoffBase:       getEnvDuration("GNS_SETTLEMENT_BACKOFF_BASE", 500*time.Millisecond),
			FeePercent:        getEnvFloat("GNS_SETTLEMENT_FEE_PERCENT", 1.0),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
