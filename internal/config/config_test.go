package config_test

import (
	"reflect"
	"testing"

	"codeshop/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DSN", "REDIS_ADDR", "KAFKA_BROKERS", "KAFKA_TOPIC", "SECURE_COOKIES", "GATEWAY_CHECKOUT_URL"} {
		t.Setenv(k, "")
	}
	cfg := config.Load()
	if cfg.Port != "8081" || cfg.DBDSN != "codeshop.db" || cfg.KafkaTopic != "codeshop.events" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RedisAddr != "" || len(cfg.KafkaBrokers) != 0 || cfg.SecureCookies {
		t.Fatalf("optional backends should be off by default: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DSN", "postgres://shop:s3cret@db:5432/shop")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("SECURE_COOKIES", "1")
	t.Setenv("WEBHOOK_SECRET", "whsec")

	cfg := config.Load()
	if cfg.Port != "9090" || cfg.DBDSN != "postgres://shop:s3cret@db:5432/shop" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Fatalf("brokers = %v, want %v", cfg.KafkaBrokers, want)
	}
	if !cfg.SecureCookies || cfg.WebhookSecret != "whsec" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}
