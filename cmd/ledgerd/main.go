// ledgerd runs the trade settlement and risk ledger engine. It connects the
// database, wires the settlement pipeline and risk engine, settles pending
// trades as they arrive and drives the periodic risk sweep. Trade entry lives
// in an external layer that only inserts pending TradeLog rows.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantlog/tradeledger/internal/calendar"
	"github.com/quantlog/tradeledger/internal/database"
	"github.com/quantlog/tradeledger/internal/infrastructure/config"
	"github.com/quantlog/tradeledger/internal/ledger"
	"github.com/quantlog/tradeledger/internal/ledger/model"
	"github.com/quantlog/tradeledger/internal/ledger/notify"
	"github.com/quantlog/tradeledger/internal/ledger/report"
	"github.com/quantlog/tradeledger/internal/ledger/risk"
	"github.com/quantlog/tradeledger/internal/ledger/settlement"
	"github.com/quantlog/tradeledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9180", "listen address for metrics and health")
	flag.Parse()

	_ = godotenv.Load()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.LoadConfig(paths...)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	cache, err := openCalendarCache(cfg, log)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	cal := calendar.NewService(cache, cfg.Ledger.CalendarTTL, log)

	publisher := openPublisher(cfg, log)
	defer publisher.Close()

	reports := report.NewService(db, cal, log)
	riskEngine := risk.NewEngine(db, publisher, cfg.Ledger.AlertCooldown, log)
	settler := settlement.NewService(db, reports, riskEngine, publisher,
		decimal.NewFromFloat(cfg.Ledger.MaxNotional), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(*metricsAddr, log)
	go runSweep(ctx, riskEngine, cfg.Ledger.SweepInterval, log)
	go runSettler(ctx, db, settler, cfg.Ledger.PollInterval, log)

	log.Info("ledger engine started",
		zap.String("metrics_addr", *metricsAddr),
		zap.Duration("sweep_interval", cfg.Ledger.SweepInterval))

	<-ctx.Done()
	log.Info("shutting down")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.Driver == "postgres" {
		return database.NewPostgresDB(cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime)
	}
	return database.NewSQLiteDB(cfg.Database.DSN)
}

func openCalendarCache(cfg *config.Config, log *zap.Logger) (calendar.Cache, error) {
	if !cfg.Redis.Enabled {
		log.Info("redis disabled, using in-memory calendar cache")
		return calendar.NewMemoryCache(), nil
	}
	client, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return calendar.NewRedisCache(client), nil
}

func openPublisher(cfg *config.Config, log *zap.Logger) notify.Publisher {
	if !cfg.Kafka.Enabled {
		log.Info("kafka disabled, events go to the log")
		return notify.NewLogPublisher(log)
	}
	return notify.NewKafkaPublisher(&notify.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		SettledTopic: cfg.Kafka.SettledTopic,
		AlertTopic:   cfg.Kafka.AlertTopic,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		RequiredAcks: cfg.Kafka.RequiredAcks,
	}, log)
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// runSettler polls for pending trades and settles them in time order. Fatal
// failures (bad fields, notional ceiling) mark the trade rejected so it stops
// blocking the queue; retryable contention leaves it pending for the next
// pass.
func runSettler(ctx context.Context, db *gorm.DB, settler *settlement.Service, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settlePending(ctx, db, settler, log)
		}
	}
}

func settlePending(ctx context.Context, db *gorm.DB, settler *settlement.Service, log *zap.Logger) {
	var trades []model.TradeLog
	err := db.WithContext(ctx).
		Where("status = ?", model.TradeStatusPending).
		Order("trade_time asc, created_at asc").
		Limit(100).
		Find(&trades).Error
	if err != nil {
		log.Error("failed to list pending trades", zap.Error(err))
		return
	}

	for i := range trades {
		trade := &trades[i]
		if _, err := settler.SettleTrade(ctx, trade.ID); err != nil {
			if ledger.Retryable(err) {
				log.Warn("settlement contended, will retry",
					zap.String("trade_id", trade.ID.String()))
				continue
			}
			log.Error("settlement failed, rejecting trade",
				zap.String("trade_id", trade.ID.String()),
				zap.Error(err))
			db.Model(trade).Update("status", model.TradeStatusRejected)
		}
	}
}

func runSweep(ctx context.Context, engine *risk.Engine, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.Sweep(ctx); err != nil {
				log.Error("risk sweep finished with errors", zap.Error(err))
			}
		}
	}
}
