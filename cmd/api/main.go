package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docvault.org/internal/audit"
	"docvault.org/internal/config"
	"docvault.org/internal/document"
	"docvault.org/internal/mask"
	"docvault.org/internal/obs"
	"docvault.org/internal/protect"
	"docvault.org/internal/render"
	"docvault.org/internal/storage"
	"docvault.org/internal/store/memory"
	"docvault.org/internal/store/pg"
	"docvault.org/internal/template"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	configPath := flag.String("config", os.Getenv("DOCVAULT_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backend, err := newBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("storage backend: %v", err)
	}

	var (
		templateStore template.Store
		documentRepo  document.Repository
		auditStore    audit.Store
		pgStore       *pg.Store
	)
	if cfg.DB.DSN != "" {
		pgStore, err = pg.Open(cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		templateStore, documentRepo, auditStore = pgStore, pgStore, pgStore
	} else {
		mem := memory.New()
		templateStore, documentRepo, auditStore = mem, mem, mem
		log.Print("no DSN configured, using in-memory stores")
	}

	registry, err := template.NewRegistry(templateStore, backend)
	if err != nil {
		log.Fatalf("template registry: %v", err)
	}
	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	protector, err := protect.NewService(protect.NewMemoryVault())
	if err != nil {
		log.Fatalf("protection service: %v", err)
	}
	svc, err := document.NewService(documentRepo, registry, backend, recorder, render.NewEngine(), protector,
		document.WithMasker(mask.New(mask.PolicyDefault)),
		document.WithAuditPageLimit(cfg.Audit.QueryLimit))
	if err != nil {
		log.Fatalf("document service: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if pgStore != nil {
			if err := pgStore.DB().PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unreachable"})
				return
			}
		}
		// exercises the audit read path end to end
		if _, err := svc.AuditTrail(ctx, audit.Filter{Limit: 1}); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "audit log unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting docvault-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func newBackend(cfg config.Storage) (storage.Backend, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3(storage.S3Options{
			Endpoint:          cfg.Endpoint,
			AccessKey:         cfg.AccessKey,
			SecretKey:         cfg.SecretKey,
			Bucket:            cfg.Bucket,
			UseSSL:            cfg.UseTLS,
			MaxObjectSize:     cfg.MaxObjectSize,
			RequestsPerSecond: cfg.RateLimit,
		})
	case "memory":
		return storage.NewMemory(cfg.MaxObjectSize), nil
	default:
		return storage.NewLocal(cfg.Root, cfg.MaxObjectSize)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
