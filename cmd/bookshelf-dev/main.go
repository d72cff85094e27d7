package main

import (
	"context"
	"log"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
	clickhouseTC "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"bookshelf/internal/app"
	"bookshelf/migrations"
)

const (
	devPassword = "devpassword"
	devSecret   = "dev-secret"
)

func main() {
	ctx := context.Background()

	log.Println("Starting ClickHouse testcontainer...")

	container, err := clickhouseTC.Run(ctx,
		"clickhouse/clickhouse-server:latest",
		clickhouseTC.WithUsername("default"),
		clickhouseTC.WithPassword(devPassword),
		clickhouseTC.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	// Ensure container cleanup on exit
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := container.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}
	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	if err := migrate(host + ":" + port.Port()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", devPassword)
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("WEBHOOK_MODE", "false")
	setDefault("PORT", "8080")
	setDefault("LOG_LEVEL", "debug")

	if os.Getenv("AUTH_JWT_SECRET") == "" {
		log.Printf("AUTH_JWT_SECRET not set, using %q", devSecret)
		os.Setenv("AUTH_JWT_SECRET", devSecret)
	}
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, running without the Telegram bot")
	}

	log.Println("Starting application with ClickHouse backend...")

	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	// Run blocks until SIGINT or SIGTERM
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

// migrate applies the embedded migrations to the dev database
func migrate(addr string) error {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: devPassword,
		},
	})
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

func setDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
