package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/homedrive/backend/internal/infrastructure/config"
	"github.com/homedrive/backend/internal/infrastructure/server"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML config file")
	root := flag.String("root", "", "Storage root (overrides STORAGE_ROOT)")
	port := flag.String("port", "", "Server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *root != "" {
		cfg.Storage.Root = *root
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		// The storage root being missing or unwritable is the one fatal
		// condition; everything else is reported per request.
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
