package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mailship/mailship/internal/alerts"
	"github.com/mailship/mailship/internal/api"
	"github.com/mailship/mailship/internal/config"
	"github.com/mailship/mailship/internal/mailer"
	"github.com/mailship/mailship/internal/mailing"
	"github.com/mailship/mailship/internal/tracking"
)

// deliverySender picks the configured provider: SES when selected and
// credentialed, otherwise store-backed SMTP.
func deliverySender(cfg *config.Config, store *mailing.Store) mailer.Sender {
	if cfg.Delivery.Provider == "ses" && cfg.Delivery.SESAccessKey != "" {
		sender, err := mailer.NewSESSender(cfg.Delivery.SESAccessKey, cfg.Delivery.SESSecretKey, cfg.Delivery.SESRegion)
		if err != nil {
			log.Printf("init ses sender: %v, falling back to smtp", err)
		} else {
			return sender
		}
	}
	return mailer.NewStoreBackedSMTP(store)
}

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (config database.url or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	log.Println("Connected to database")

	store := mailing.NewStore(db)
	notifier := alerts.NewNotifier(store, deliverySender(cfg, store))
	trackHandler := tracking.NewHandler(store, notifier)

	r := api.NewMailingService(store, cfg.API.AllowedOrigins).Routes()
	r.Get("/track", trackHandler.HandleTrack)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
