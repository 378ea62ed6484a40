package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"clinic-cloud/calsync"
	"clinic-cloud/gcal"
	"clinic-cloud/scheduling"
	"clinic-cloud/security"
	"clinic-cloud/streams"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.0.1"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting Clinic Cloud Server...")

	// Initialize Redis
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	redisClient, err := streams.Init(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Clinic timezone: stored timestamps are naive clinic-local strings.
	offsetHours := parseIntOrDefault(os.Getenv("CLINIC_UTC_OFFSET_HOURS"), -3)
	clinic := scheduling.NewClinic(offsetHours * 3600)

	// Google Calendar OAuth client
	clientID := os.Getenv("CALENDAR_CLIENT_ID")
	clientSecret := os.Getenv("CALENDAR_CLIENT_SECRET")
	redirectURL := getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/api/calendar/auth/callback")
	if clientID == "" || clientSecret == "" {
		log.Fatal("CALENDAR_CLIENT_ID and CALENDAR_CLIENT_SECRET environment variables are required")
	}
	provider := gcal.NewGoogleProvider(clientID, clientSecret, redirectURL)

	// Stores and services
	store := scheduling.NewRedisStore(redisClient)
	integrations := security.NewIntegrationStore(redisClient)
	states := security.NewOAuthStateStore(redisClient)
	tokens := security.NewTokenService(integrations, provider)
	activity := streams.NewActivityBus(redisClient)
	engine := scheduling.NewEngine(store, clinic)
	manager := calsync.NewManager(store, integrations, tokens, provider, calsync.NewLocalKeyedLock(), activity, clinic)

	// Webhook subscription settings
	callbackURL := getEnv("CALENDAR_WEBHOOK_CALLBACK_URL", "http://localhost:8080/api/calendar/webhook")
	verifyToken := os.Getenv("CALENDAR_WEBHOOK_VERIFY_TOKEN")

	// Calendar webhook renewal
	renewEnabled := strings.ToLower(strings.TrimSpace(os.Getenv("CALENDAR_WEBHOOK_RENEW_ENABLED"))) != "false"
	renewInterval := parseDurationOrDefault(os.Getenv("CALENDAR_WEBHOOK_RENEW_INTERVAL"), time.Hour)
	renewThreshold := parseDurationOrDefault(os.Getenv("CALENDAR_WEBHOOK_RENEW_THRESHOLD"), 24*time.Hour)
	renewer := NewWebhookRenewer(integrations, tokens, provider, callbackURL, verifyToken, renewInterval, renewThreshold, renewEnabled)
	renewer.Start(ctx)

	// Pull sync fallback behind push notifications
	pullEnabled := strings.ToLower(strings.TrimSpace(os.Getenv("CALENDAR_PULL_SYNC_ENABLED"))) != "false"
	pullInterval := parseDurationOrDefault(os.Getenv("CALENDAR_PULL_SYNC_INTERVAL"), 15*time.Minute)
	pullSync := NewCalendarPullSync(integrations, manager, pullInterval, pullEnabled)
	pullSync.Start(ctx)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	NewGoogleAuthHandler(provider, integrations, states, tokens).RegisterRoutes(r)
	NewAvailabilityHandler(engine).RegisterRoutes(r)
	NewAppointmentsHandler(store, engine, manager, clinic).RegisterRoutes(r)
	NewCalendarWebhookHandler(integrations, manager, verifyToken).RegisterRoutes(r)
	NewCalendarSyncHandler(manager, integrations, tokens, provider, callbackURL, verifyToken).RegisterRoutes(r)
	registerSyncFeedRoutes(r, activity)

	// Configure server
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Handler:      r,
		Addr:         "0.0.0.0:" + port,
		WriteTimeout: 180 * time.Second,
		ReadTimeout:  180 * time.Second,
	}

	log.Printf("Clinic Cloud Server v%s starting on %s", VERSION, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stops the renewal loop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "clinic-cloud",
	}

	json.NewEncoder(w).Encode(response)
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"message": "Clinic Cloud API Server",
		"version": VERSION,
	}

	json.NewEncoder(w).Encode(response)
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func parseIntOrDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return def
}
