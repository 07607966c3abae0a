package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dax-arena/core/config"
)

// startDebugServer exposes the eino visual debug plugin plus a health
// endpoint, mirroring the teacher's standalone debug server, adapted
// to the arena's single config struct (no graph dependency).
func startDebugServer(ctx context.Context, cfg *config.Config) error {
	if !cfg.EinoDebugEnabled {
		return nil
	}

	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("initialize eino debug plugin: %w", err)
	}
	log.Printf("eino debug plugin initialized on port %d", cfg.EinoDebugPort)

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("arena debug server is running"))
		})
		healthPort := cfg.EinoDebugPort + 1
		addr := fmt.Sprintf(":%d", healthPort)
		log.Printf("debug health check available at http://localhost%s/health", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("debug health server stopped: %v", err)
		}
	}()

	return nil
}
