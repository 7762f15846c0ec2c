// Command kennelsync-demo runs a synchronization client against a local
// backend and prints what it does: queue depth changes, connection state and
// incoming realtime events. Useful for poking at a staging server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pawsuite/kennelsync/pkg/kennelsync"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default: in-memory store, realtime disabled)")
	enqueueURL := flag.String("enqueue", "", "enqueue a demo POST to this URL before starting")
	flag.Parse()

	cfg := kennelsync.DefaultConfig()
	if *configPath != "" {
		loaded, err := kennelsync.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	client, err := kennelsync.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	// Typical bindings for a kennel front end.
	client.Bind("booking.created", kennelsync.Binding{
		Kind:        kennelsync.KindEntityCreated,
		Collections: []string{"bookings"},
	})
	client.Bind("booking.updated", kennelsync.Binding{
		Kind:        kennelsync.KindEntityUpdated,
		Collections: []string{"bookings"},
		SlotPrefix:  "bookings/",
	})
	client.Bind("booking.deleted", kennelsync.Binding{
		Kind:        kennelsync.KindEntityDeleted,
		Collections: []string{"bookings"},
		SlotPrefix:  "bookings/",
	})
	client.Bind("occupancy.updated", kennelsync.Binding{
		Kind: kennelsync.KindSnapshotUpdated,
		SnapshotKey: func(payload json.RawMessage) (string, error) {
			var p struct {
				Date string `json:"date"`
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return "", err
			}
			return "occupancy:" + p.Date, nil
		},
	})

	client.OnEvent(func(ev kennelsync.Event) {
		log.Printf("Event: %s %s", ev.Type, string(ev.Payload))
	})
	client.OnQueueDepth(func(n int) {
		log.Printf("Queue depth: %d", n)
	})

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	if *enqueueURL != "" {
		body, _ := json.Marshal(map[string]string{
			"pet":  "Biscuit",
			"run":  "A4",
			"note": "demo enqueue",
		})
		id, err := client.Enqueue(ctx, kennelsync.OperationInput{
			URL:     *enqueueURL,
			Method:  "POST",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
			Type:    "check-in",
		})
		if err != nil {
			log.Fatalf("Enqueue failed: %v", err)
		}
		log.Printf("Enqueued demo operation #%d", id)
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			state := client.ConnectionState()
			depth, err := client.QueueDepth(ctx)
			if err != nil {
				log.Printf("Queue depth unavailable: %v", err)
				continue
			}
			fmt.Printf("state=%s backoff=%dms queued=%d\n", state.State, state.BackoffMs, depth)
		case sig := <-sigCh:
			log.Printf("Received %s, shutting down", sig)
			client.Stop()
			return
		}
	}
}
