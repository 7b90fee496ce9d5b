package main // Entry point package

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/ridehub/seat-booking/internal/config"
	"github.com/ridehub/seat-booking/internal/database"
	"github.com/ridehub/seat-booking/internal/handler"
	"github.com/ridehub/seat-booking/internal/ledger"
	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/middleware"
	"github.com/ridehub/seat-booking/internal/payment"
	"github.com/ridehub/seat-booking/internal/queue"
	"github.com/ridehub/seat-booking/internal/reservation"
	"github.com/ridehub/seat-booking/internal/router"
	"github.com/ridehub/seat-booking/internal/sweeper"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env directly

	cfg := config.Load()
	rlCfg := config.LoadRateLimitConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient() // nil when Redis is unreachable; everything degrades to DB-only
	if rdb == nil {
		log.Println("redis unavailable; replay cache, webhook dedup and rate limiting disabled")
	}

	locks := lockstore.New(db)
	books := ledger.New(db)
	catalog := ledger.NewTripCatalog(db)

	var pub *queue.Publisher
	if cfg.AMQPURL != "" {
		pub = queue.NewPublisher(cfg.AMQPURL)
		go func() {
			if err := queue.StartBookingConsumer(cfg.AMQPURL); err != nil {
				log.Printf("booking consumer stopped: %v", err)
			}
		}()
	}

	coord := &reservation.Coordinator{
		Locks:   locks,
		Ledger:  books,
		Catalog: catalog,
		Promos:  ledger.NewPromotionStore(db),
		Redis:   rdb,
		HoldTTL: cfg.HoldTTL,
	}
	if pub != nil {
		coord.Events = pub
	}
	if cfg.GatewayBaseURL != "" {
		coord.Payments = &payment.Initiator{
			Ledger:  books,
			Gateway: payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey),
			Method:  cfg.PaymentMethod,
		}
	} else {
		log.Println("payment gateway not configured; bookings will hold until expiry")
	}

	reconciler := &payment.Reconciler{
		Locks:   locks,
		Ledger:  books,
		Catalog: catalog,
		Redis:   rdb,
	}
	if pub != nil {
		reconciler.Events = pub
	}

	// Finish transitions interrupted by the last shutdown before taking
	// traffic: leases confirmed whose bookings never flipped, and the
	// reverse.
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reconciler.Recover(recoverCtx); err != nil {
		log.Printf("startup recovery: %v", err)
	}
	cancelRecover()

	sw := &sweeper.Sweeper{
		Locks:       locks,
		Coordinator: coord,
		Pending:     books,
		Interval:    cfg.SweepInterval,
		BatchLimit:  cfg.SweepBatchSize,
	}
	stopSweeper, err := sw.Start()
	if err != nil {
		log.Fatalf("start sweeper: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, db)
	router.RegisterBooking(e, handler.NewBookingHandler(coord), cfg.JWTSecret, middleware.NewTokenBucket(rlCfg, rdb))
	router.RegisterWebhooks(e, handler.NewWebhookHandler(reconciler, cfg.WebhookSecret))

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := stopSweeper(); err != nil {
		log.Printf("sweeper shutdown: %v", err)
	}
}
