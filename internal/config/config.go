package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     string
	DBDriver string // sqlite | pgx
	DBDSN    string
	LogFile  string
	SeedDemo bool

	LockTimeout   time.Duration
	BusyRetries   int
	SweepInterval time.Duration
	RelayInterval time.Duration

	SalesSink    string // log | kafka | nats
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string

	OTLPEndpoint string
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "secondhand.db"
	} // sqlite file in project root
	logFile := os.Getenv("LOG_FILE")

	cfg := Config{
		Port:          port,
		DBDriver:      driver,
		DBDSN:         dsn,
		LogFile:       logFile,
		SeedDemo:      envBool("SEED_DEMO", true),
		LockTimeout:   envDuration("LOCK_TIMEOUT", 2*time.Second),
		BusyRetries:   envInt("BUSY_RETRIES", 3),
		SweepInterval: envDuration("SWEEP_INTERVAL", time.Minute),
		RelayInterval: envDuration("RELAY_INTERVAL", 500*time.Millisecond),
		SalesSink:     envString("SALES_SINK", "log"),
		KafkaBrokers:  envList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:    envString("KAFKA_TOPIC", "sales.records"),
		NATSURL:       envString("NATS_URL", "nats://localhost:4222"),
		NATSSubject:   envString("NATS_SUBJECT", "sales.records"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	log.Printf("[config] PORT=%s DB_DRIVER=%s DB_DSN=%s LOCK_TIMEOUT=%s BUSY_RETRIES=%d SWEEP_INTERVAL=%s SALES_SINK=%s",
		cfg.Port, cfg.DBDriver, redact(cfg.DBDSN), cfg.LockTimeout, cfg.BusyRetries, cfg.SweepInterval, cfg.SalesSink)
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// redact hides a password in a postgres URL so the DSN can be logged.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
