package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"flowboard-api/ai"
	"flowboard-api/api"
	"flowboard-api/board"
	"flowboard-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tables := storage.Tables{
		Boards:     os.Getenv("BOARDS_TABLE"),
		UserBoards: os.Getenv("USER_BOARDS_TABLE"),
		Columns:    os.Getenv("COLUMNS_TABLE"),
		Tasks:      os.Getenv("TASKS_TABLE"),
		Iterations: os.Getenv("ITERATIONS_TABLE"),
		Comments:   os.Getenv("COMMENTS_TABLE"),
	}
	aiRunQueue := os.Getenv("AI_RUN_QUEUE")
	if connStr == "" || aiRunQueue == "" ||
		tables.Boards == "" || tables.UserBoards == "" || tables.Columns == "" ||
		tables.Tasks == "" || tables.Iterations == "" || tables.Comments == "" {
		log.Fatal("missing storage config")
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

	statusTTL := 10 * time.Minute
	if v := os.Getenv("AI_STATUS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid AI_STATUS_TTL: %v", err)
		}
		statusTTL = d
	}
	eventChannel := os.Getenv("BOARD_EVENTS_CHANNEL")
	if eventChannel == "" {
		eventChannel = "board-updates"
	}

	store, err := storage.New(connStr, tables, aiRunQueue, storage.WithRedis(rc, statusTTL, eventChannel))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	testMode := os.Getenv("AUTH_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != ""
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("JWT_AUDIENCE")
		jwtDomain := os.Getenv("JWT_DOMAIN")
		if jwtAudience == "" || jwtDomain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", jwtDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+jwtDomain+"/")
	}

	logger := log.New()

	completer := ai.NewClient(ai.ClientConfig{
		APIKey:  os.Getenv("AI_API_KEY"),
		BaseURL: os.Getenv("AI_BASE_URL"),
		Model:   os.Getenv("AI_MODEL"),
	})
	dispatcher := ai.NewDispatcher(store, store, logger)
	defer dispatcher.Shutdown()
	runner := ai.NewRunner(store, completer, logger)
	worker := ai.NewWorker(store, runner, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go worker.Run(workerCtx)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		stopWorker()
	}()

	dedupeTTL := 24 * time.Hour
	if v := os.Getenv("MOVE_DEDUPE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid MOVE_DEDUPE_TTL: %v", err)
		}
		dedupeTTL = d
	}
	deduper := api.NewRedisDeduper(rc, dedupeTTL)

	controller := board.NewController(store, dispatcher, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	if enabled, err := strconv.ParseBool(os.Getenv("ENABLE_PPROF")); err == nil && enabled {
		pprof.Register(e)
	}

	api.Register(e, store, auth, controller, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
