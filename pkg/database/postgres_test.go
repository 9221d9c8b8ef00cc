package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/wonny/cyclebot/pkg/config"
)

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "://not a url", config.DatabaseConfig{})
	if err == nil {
		t.Fatal("Expected error for invalid URL")
	}
}

func TestHealthCheck(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Open(ctx, url, config.DatabaseConfig{MaxConns: 2})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	status, err := db.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if !status.Healthy {
		t.Error("Expected healthy status")
	}
}
