package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DBDSN         string
	LogFile       string
	LogLevel      string
	TemplatesDir  string
	RedisAddr     string
	KafkaBrokers  []string
	KafkaTopic    string
	WebhookSecret string
	GatewayURL    string
	ServiceName   string
	SecureCookies bool
}

func Load() Config {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := Config{
		Port:          getenv("PORT", "8081"),
		DBDSN:         getenv("DB_DSN", "codeshop.db"), // sqlite file in project root, or postgres://...
		LogFile:       getenv("LOG_FILE", "./codeshop.log"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		TemplatesDir:  getenv("TEMPLATES_DIR", "./web/templates"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaBrokers:  splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getenv("KAFKA_TOPIC", "codeshop.events"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		GatewayURL:    getenv("GATEWAY_CHECKOUT_URL", "https://pay.example.com/checkout"),
		ServiceName:   getenv("SERVICE_NAME", "codeshop"),
		SecureCookies: os.Getenv("SECURE_COOKIES") == "1",
	}
	if cfg.WebhookSecret == "" {
		log.Printf("[config] WEBHOOK_SECRET is empty; payment webhooks will be rejected")
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s REDIS_ADDR=%q KAFKA_BROKERS=%v",
		cfg.Port, redactDSN(cfg.DBDSN), cfg.LogFile, cfg.RedisAddr, cfg.KafkaBrokers)
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
