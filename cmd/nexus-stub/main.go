// Command nexus-stub serves a local stand-in for the analysis service so the
// client can be tried without the real backend.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"

	"github.com/csheth/nexus/internal/remotetest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	origins := flag.String("origins", "*", "comma-separated CORS origins")
	seed := flag.Bool("seed", true, "start with a couple of history rows")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	svc := remotetest.NewService()
	if *seed {
		svc.SeedHistory(
			remotetest.HistoryItem{ID: 2, Filename: "tema2.pdf", Date: "2024-05-02 10:30", Summary: "Derecho administrativo"},
			remotetest.HistoryItem{ID: 1, Filename: "tema1.pdf", Date: "2024-05-01 09:15", Summary: "Constitución española"},
		)
	}
	handler := cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(*origins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})(svc)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("stub analysis service listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
