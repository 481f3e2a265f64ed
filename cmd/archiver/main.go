package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"taptendance/internal/archive"
	"taptendance/internal/config"
	"taptendance/internal/queue"
	"taptendance/internal/store"
)

// Archiver consumes queued attendance events and persists them to the
// Postgres archive.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "taptendance:records")
	}

	repo := archive.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("archiver started, waiting for records...")
	for msg := range messages {
		if msg.Type != "record" {
			continue
		}

		entry, err := archive.Unmarshal(msg.Body)
		if err != nil {
			log.Printf("bad record message, dropped: %v", err)
			continue
		}

		stored, err := repo.Upsert(ctx, entry)
		if err != nil {
			log.Printf("archive upsert failed for %s: %v", entry.UID, err)
			continue
		}
		log.Printf("archived %s (%s) outcome=%s", stored.StudentID, stored.UID, stored.Outcome)
	}

	log.Println("archiver stopped")
}
