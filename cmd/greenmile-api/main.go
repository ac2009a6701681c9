// README: Entry point; loads config, wires services, starts HTTP server and cache sweeper.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"greenmile/internal/config"
	httptransport "greenmile/internal/http"
	"greenmile/internal/infra"
	"greenmile/internal/maps"
	"greenmile/internal/modules/tracking"
	"greenmile/internal/modules/trip"
	"greenmile/internal/realtime"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("GM_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	pub := realtime.NewRedisPublisher(redisClient)

	var locations tracking.LocationStore
	var routes tracking.RouteCache
	switch cfg.Tracking.CacheBackend {
	case "redis":
		locations = tracking.NewRedisLocationStore(redisClient)
		routes = tracking.NewRedisRouteCache(redisClient)
	case "memory":
		locations = tracking.NewMemoryLocationStore()
		routes = tracking.NewMemoryRouteCache()
	default:
		log.Fatalf("unknown cache backend %q", cfg.Tracking.CacheBackend)
	}

	var provider maps.RouteProvider
	if cfg.Maps.APIKey != "" {
		p, err := maps.NewGoogleRoutes(cfg.Maps.APIKey, time.Duration(cfg.Maps.TimeoutSeconds)*time.Second)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		provider = p
	} else {
		log.Print("GM_MAPS_API_KEY not set; route requests will return no route")
	}

	tripStore := trip.NewStore(dbPool)
	tripSvc := trip.NewService(tripStore, pub, locations, routes)
	trackingSvc := tracking.NewService(tripStore, locations, routes, provider, pub)

	go trackingSvc.RunSweeper(ctx, time.Duration(cfg.Tracking.SweepSeconds)*time.Second)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httptransport.NewRouter(verifier, trackingSvc, tripSvc),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
