package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/mailship/mailship/internal/alerts"
	"github.com/mailship/mailship/internal/config"
	"github.com/mailship/mailship/internal/mailer"
	"github.com/mailship/mailship/internal/mailing"
	"github.com/mailship/mailship/internal/worker"
)

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

	var sender mailer.Sender
	if cfg.Delivery.Provider == "ses" && cfg.Delivery.SESAccessKey != "" {
		sender, err = mailer.NewSESSender(cfg.Delivery.SESAccessKey, cfg.Delivery.SESSecretKey, cfg.Delivery.SESRegion)
		if err != nil {
			log.Fatalf("init ses sender: %v", err)
		}
		log.Println("Delivery provider: ses")
	} else {
		sender = mailer.NewStoreBackedSMTP(store)
		log.Println("Delivery provider: smtp")
	}

	var throttle *worker.Throttle
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		throttle = worker.NewThrottle(client, cfg.Worker.RatePerMinute)
		if throttle != nil {
			log.Printf("Send throttle enabled: %d/min per campaign", cfg.Worker.RatePerMinute)
		}
	}

	notifier := alerts.NewNotifier(store, sender)

	scheduler := worker.NewScheduler(store, cfg.Worker.Interval())
	processor := worker.NewProcessor(db, store, sender, notifier, throttle, worker.ProcessorConfig{
		BatchSize:   cfg.Worker.BatchSize,
		Interval:    cfg.Worker.Interval(),
		Reclaim:     cfg.Worker.Reclaim(),
		SendTimeout: cfg.Worker.SendTimeout(),
		BaseURL:     cfg.Server.PublicBaseURL,
	})

	scheduler.Start()
	processor.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	processor.Stop()
	scheduler.Stop()
	log.Println("Worker stopped")
}
