// Package app wires the federation engine's components into a single
// running process: store, caches, queues and their workers, and the
// gin HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deemkeen/apforge/cache"
	"github.com/deemkeen/apforge/config"
	"github.com/deemkeen/apforge/discovery"
	"github.com/deemkeen/apforge/handlers"
	"github.com/deemkeen/apforge/inbox"
	"github.com/deemkeen/apforge/ingress"
	"github.com/deemkeen/apforge/jsonld"
	"github.com/deemkeen/apforge/keystore"
	"github.com/deemkeen/apforge/outbox"
	"github.com/deemkeen/apforge/queue"
	"github.com/deemkeen/apforge/queue/memqueue"
	"github.com/deemkeen/apforge/queue/redisqueue"
	"github.com/deemkeen/apforge/ratelimit"
	"github.com/deemkeen/apforge/ratelimit/memlimiter"
	"github.com/deemkeen/apforge/ratelimit/redislimiter"
	"github.com/deemkeen/apforge/remotefetch"
	"github.com/deemkeen/apforge/store"
	"github.com/deemkeen/apforge/store/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	inboxWorkerCount      = 4
	outboxWorkerCount     = 4
	memQueueBufferSize    = 256
	shutdownGraceDuration = 30 * time.Second
)

// App bundles every long-lived component of one running instance.
type App struct {
	config *config.AppConfig

	store       store.Store
	inboxQueue  queue.Queue
	outboxQueue queue.Queue
	relays      *outbox.RelayManager

	inboxHandler  queue.Handler
	outboxHandler queue.Handler

	httpServer *http.Server
	workerCtx  context.Context
	cancelWork context.CancelFunc

	done chan os.Signal
}

// New creates an App for conf. No I/O happens until Initialize.
func New(conf *config.AppConfig) (*App, error) {
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the store, wires every component, and builds (but
// does not start) the HTTP server and worker pools.
func (a *App) Initialize() error {
	db, err := sqlite.Open(a.config.Conf.DbPath)
	if err != nil {
		return fmt.Errorf("opening activity store: %w", err)
	}
	a.store = db

	var redisClient *redis.Client
	if a.config.Conf.RedisHost != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", a.config.Conf.RedisHost, a.config.Conf.RedisPort),
		})
	}

	objectCache := cache.New("apforge:objcache", redisClient)
	keyCache := cache.New("apforge:keycache", redisClient)

	proc, err := jsonld.New()
	if err != nil {
		return fmt.Errorf("initializing json-ld processor: %w", err)
	}

	fetcher := remotefetch.New(a.config.Conf.InstanceBaseUrl, a.store, proc, objectCache)
	keys := keystore.New(a.store, fetcher, keyCache)

	if a.inboxQueue, err = newQueue(redisClient, "inbox"); err != nil {
		return err
	}
	if a.outboxQueue, err = newQueue(redisClient, "outbox"); err != nil {
		return err
	}

	ob := outbox.New(a.outboxQueue)
	outboxWorker := outbox.NewWorker(a.store, keys, proc, fetcher)
	a.relays = outbox.NewRelayManager(a.store, ob, a.config.Conf.InstanceBaseUrl)

	hdeps := &handlers.Deps{
		Store:           a.store,
		Fetcher:         fetcher,
		Outbox:          ob,
		Moderation:      noopModeration{},
		InstanceBaseURL: a.config.Conf.InstanceBaseUrl,
	}
	registry := handlers.NewRegistry(hdeps)
	inboxWorker := inbox.NewWorker(registry)

	acceptor := inbox.NewAcceptor(a.store, proc, a.inboxQueue)

	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = redislimiter.New(redisClient)
	} else {
		limiter = memlimiter.New()
	}

	if err := seedDefaultActor(a.store, a.config); err != nil {
		log.Printf("default actor seeding skipped: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	disc := &discovery.Deps{
		Store:           a.store,
		InstanceBaseURL: a.config.Conf.InstanceBaseUrl,
		InstanceHost:    hostOf(a.config.Conf.InstanceBaseUrl),
		KeyResolver:     keys,
	}
	disc.RegisterRoutes(router)

	ing := &ingress.Deps{
		Store:       a.store,
		Acceptor:    acceptor,
		KeyResolver: keys,
	}
	ing.RegisterRoutes(router, limiter)

	outboxSubmit := &ingress.OutboxDeps{
		Store:           a.store,
		Outbox:          ob,
		InstanceBaseURL: a.config.Conf.InstanceBaseUrl,
	}
	outboxSubmit.RegisterOutboxRoute(router)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Conf.HttpPort),
		Handler: router,
	}

	a.workerCtx, a.cancelWork = context.WithCancel(context.Background())
	a.inboxHandler = inboxWorker.HandleJob
	a.outboxHandler = outboxWorker.HandleJob

	return nil
}

// Start runs the worker pools and HTTP server and blocks until a
// shutdown signal is received.
func (a *App) Start() error {
	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	a.inboxQueue.Run(a.workerCtx, inboxWorkerCount, a.inboxHandler)
	a.outboxQueue.Run(a.workerCtx, outboxWorkerCount, a.outboxHandler)

	log.Printf("Starting HTTP server on %s", a.httpServer.Addr)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown stops the HTTP server and worker pools and closes the
// store, with a bounded grace period.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGraceDuration)
	defer cancel()

	var shutdownErr error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		shutdownErr = err
	}

	a.cancelWork()
	_ = a.inboxQueue.Close()
	_ = a.outboxQueue.Close()

	if err := a.store.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

// Relays exposes relay subscription management for operator tooling.
func (a *App) Relays() *outbox.RelayManager { return a.relays }

func newQueue(redisClient *redis.Client, name string) (queue.Queue, error) {
	if redisClient != nil {
		return redisqueue.New(redisClient, name), nil
	}
	return memqueue.New(memQueueBufferSize), nil
}

func hostOf(instanceBaseURL string) string {
	u, err := url.Parse(instanceBaseURL)
	if err != nil {
		return instanceBaseURL
	}
	return strings.ToLower(u.Host)
}

type noopModeration struct{}

func (noopModeration) ReportContent(ctx context.Context, objectIri, reporterIri, category string, raw map[string]interface{}) error {
	log.Printf("flag received: object=%s reporter=%s category=%q (no moderation backend configured)", objectIri, reporterIri, category)
	return nil
}
