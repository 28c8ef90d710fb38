package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tasklist-api/api"
	"tasklist-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	accountsTableName := os.Getenv("ACCOUNTS_TABLE")
	settingsTableName := os.Getenv("SETTINGS_TABLE")
	auditQueueName := os.Getenv("AUDIT_QUEUE")
	if connStr == "" || tasksTableName == "" || accountsTableName == "" || settingsTableName == "" || auditQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTableName, accountsTableName, settingsTableName, auditQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	dedupTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		dedupTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupTTL)

	// With an identity-provider domain configured, tokens are validated
	// against its JWKS and local signup/signin is unavailable. Otherwise the
	// service issues its own HS256 tokens.
	var auth *api.Auth
	if domain := os.Getenv("IDP_DOMAIN"); domain != "" {
		audience := os.Getenv("IDP_AUDIENCE")
		if audience == "" {
			log.Fatal("missing IDP_AUDIENCE")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, audience, "https://"+domain+"/")
	} else {
		auth = api.NewAuth(nil, os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER"))
	}
	auth = auth.WithRevoker(api.NewRedisRevoker(rc))

	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	logger := log.New()
	api.Register(e, cached, auth, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
