package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is read from the environment, a .env file is loaded first when
// present.
type AppConfig struct {
	addr           string
	dsn            string
	redisAddr      string
	signingKey     string
	issuer         string
	tokenTTL       time.Duration
	useHashid      bool
	magicLinkURL   string
	initTimeout    time.Duration
	profileTimeout time.Duration
	settleDelay    time.Duration
	secureCookies  bool
	poolSize       int
	poolTTL        time.Duration
}

func LoadConfig(files ...string) (*AppConfig, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return &AppConfig{
		addr:           envString("GATE_ADDR", ":8572"),
		dsn:            envString("GATE_DSN", "file:gatekeeper.db?cache=shared"),
		redisAddr:      envString("GATE_REDIS_ADDR", ""),
		signingKey:     envString("GATE_SIGNING_KEY", ""),
		issuer:         envString("GATE_TOKEN_ISSUER", "gatekeeper"),
		tokenTTL:       envDuration("GATE_TOKEN_TTL", 24*time.Hour),
		useHashid:      envBool("GATE_HASHID", false),
		magicLinkURL:   envString("GATE_MAGIC_LINK_URL", "http://localhost:8572/auth/magic-link"),
		initTimeout:    envDuration("GATE_INIT_TIMEOUT", 2*time.Second),
		profileTimeout: envDuration("GATE_PROFILE_TIMEOUT", 2*time.Second),
		settleDelay:    envDuration("GATE_SETTLE_DELAY", 500*time.Millisecond),
		secureCookies:  envBool("GATE_SECURE_COOKIES", false),
		poolSize:       envInt("GATE_POOL_SIZE", 1024),
		poolTTL:        envDuration("GATE_POOL_TTL", 30*time.Minute),
	}, nil
}

func (c AppConfig) GetAddr() string                  { return c.addr }
func (c AppConfig) GetDSN() string                   { return c.dsn }
func (c AppConfig) GetRedisAddr() string             { return c.redisAddr }
func (c AppConfig) GetSigningKey() string            { return c.signingKey }
func (c AppConfig) GetIssuer() string                { return c.issuer }
func (c AppConfig) GetTokenTTL() time.Duration       { return c.tokenTTL }
func (c AppConfig) GetUseHashid() bool               { return c.useHashid }
func (c AppConfig) GetMagicLinkURL() string          { return c.magicLinkURL }
func (c AppConfig) GetInitTimeout() time.Duration    { return c.initTimeout }
func (c AppConfig) GetProfileTimeout() time.Duration { return c.profileTimeout }
func (c AppConfig) GetSettleDelay() time.Duration    { return c.settleDelay }
func (c AppConfig) GetSecureCookies() bool           { return c.secureCookies }
func (c AppConfig) GetPoolSize() int                 { return c.poolSize }
func (c AppConfig) GetPoolTTL() time.Duration        { return c.poolTTL }

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(key, "")); err == nil && d > 0 {
		return d
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(envString(key, "")); err == nil {
		return b
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envString(key, "")); err == nil && n > 0 {
		return n
	}
	return def
}
