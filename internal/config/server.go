package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds configuration for the infergate server.
type ServerConfig struct {
	Port        int
	MetricsPort int
	WSPath      string

	CredentialsFile string
	RedisURL        string
	AuthCacheTTL    time.Duration

	EngineQueue     int
	EngineStepDelay time.Duration
	MetricsInterval time.Duration

	LogLevel string
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ServerConfig) BindFlags() {
	port, _ := strconv.Atoi(getEnv("PORT", "8001"))
	c.Port = port
	mp, _ := strconv.Atoi(getEnv("METRICS_PORT", strconv.Itoa(port)))
	c.MetricsPort = mp
	c.WSPath = getEnv("WS_PATH", "/api/inference")
	c.CredentialsFile = getEnv("CREDENTIALS_FILE", "clients.yaml")
	c.RedisURL = getEnv("REDIS_URL", "")
	ttl, _ := time.ParseDuration(getEnv("AUTH_CACHE_TTL", "15m"))
	c.AuthCacheTTL = ttl
	eq, _ := strconv.Atoi(getEnv("ENGINE_QUEUE", "32"))
	c.EngineQueue = eq
	sd, _ := time.ParseDuration(getEnv("ENGINE_STEP_DELAY", "20ms"))
	c.EngineStepDelay = sd
	mi, _ := time.ParseDuration(getEnv("METRICS_INTERVAL", "1s"))
	c.MetricsInterval = mi
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the gateway")
	flag.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Prometheus metrics listen port; defaults to the value of --port")
	flag.StringVar(&c.WSPath, "ws-path", c.WSPath, "path clients use to establish WebSocket connections")
	flag.StringVar(&c.CredentialsFile, "credentials-file", c.CredentialsFile, "YAML file listing client credentials and session quotas")
	flag.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for the credential store; leave empty to use the credentials file only")
	flag.DurationVar(&c.AuthCacheTTL, "auth-cache-ttl", c.AuthCacheTTL, "how long a validated credential is cached before re-validation")
	flag.IntVar(&c.EngineQueue, "engine-queue", c.EngineQueue, "bounded inference admission queue depth")
	flag.DurationVar(&c.EngineStepDelay, "engine-step-delay", c.EngineStepDelay, "simulated engine per-token decode latency")
	flag.DurationVar(&c.MetricsInterval, "metrics-interval", c.MetricsInterval, "telemetry push interval for subscribed connections")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (trace, debug, info, warn, error, off)")
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
