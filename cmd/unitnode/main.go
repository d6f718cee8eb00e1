// unitnode runs one chat unit: its HTTP surface, its cross-unit NATS
// handlers, and the timer/sync machinery behind them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"UProject/api"
	"UProject/global/config"
	"UProject/logger"
	"UProject/middleware/security"
	"UProject/module/chat/model"
	"UProject/module/chat/stable"
	"UProject/module/collab"
	"UProject/module/unit"
	"UProject/service/c2c"
	"UProject/service/idem"
	"UProject/service/natsx"
	"UProject/service/notify"
	"UProject/service/storage/redis"
	"UProject/service/syncq"
	"UProject/tools/safe"
)

// persistInterval is the cadence of the aggregate snapshot job.
const persistInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "path to the node's JSON config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Log.Fatal("unit node exited", zap.Error(err))
	}
}

func run(configPath string) error {
	section, err := loadSection(configPath)
	if err != nil {
		return err
	}
	if err := config.Init(section); err != nil {
		return err
	}
	cfg := config.Get()
	unitID := model.UnitID(cfg.UnitID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infrastructure.
	if err := redis.Init(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		return err
	}
	defer redis.Close()

	db, err := stable.Connect(ctx, &stable.Config{
		Uri:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	})
	if err != nil {
		return err
	}
	store := stable.NewStore(db)

	checker := idem.NewRedis(redis.Client(), cfg.Retry.IdempotencyWindow)

	nats, err := natsx.NewManager(natsx.Config{
		Servers: cfg.NatsServers,
		Name:    "unitnode-" + cfg.UnitID,
	}, natsx.RecoverMiddleware(), natsx.IdemMiddleware(checker, cfg.Retry.IdempotencyWindow))
	if err != nil {
		return err
	}
	defer nats.Close()

	producer, err := notify.NewProducer(cfg.KafkaBrokers, unitID)
	if err != nil {
		return err
	}
	defer producer.Close()

	// Runtime state and outbound queues. The aggregate is restored from
	// its stable blob, empty for a fresh unit.
	env := unit.NewEnv(unitID)
	data, err := unit.LoadData(ctx, store, unitID, cfg.UnitKind)
	if err != nil {
		return err
	}
	rt := unit.NewRuntimeState(env, data)
	defer rt.Timers.Stop()

	userSender := c2c.NewEnvelopeSender(nats, natsx.OpNotifyEvents, unitID, cfg.Retry.RequestTimeout)
	rt.UserSync = syncq.NewGrouped[model.IdempotentEnvelope](userSender, syncq.Options{
		MaxBatch:    cfg.Batch.UserEvents,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	rt.UserSync.OnAbandon = func(dest model.UnitID, items []model.IdempotentEnvelope) {
		logger.Log.Error("user sync batch abandoned",
			zap.String("dest", string(dest)), zap.Int("items", len(items)))
	}

	indexSender := c2c.NewEnvelopeSender(nats, natsx.OpNotifyEvents, unitID, cfg.Retry.RequestTimeout)
	rt.IndexSync = syncq.NewBatched[model.IdempotentEnvelope](indexSender, model.UnitID(cfg.LocalIndexUnit), syncq.Options{
		MaxBatch:    cfg.Batch.IndexEvents,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	rt.IndexSync.OnAbandon = func(items []model.IdempotentEnvelope) {
		logger.Log.Error("index sync batch abandoned", zap.Int("items", len(items)))
	}

	// Collaborator wiring.
	deleter, err := collab.NewFileDeleter(nats, model.UnitID(cfg.StorageUnit), unitID)
	if err != nil {
		return err
	}
	gcq := stable.NewGCQueue(store, 1000)
	paymentPolicy := collab.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
		Timeout:     cfg.Retry.RequestTimeout,
	}
	rt.Collab = unit.Collaborators{
		DeleteFiles: deleter.Delete,
		FinalizePayment: func(p model.PendingPayment) {
			rt.Timers.Enqueue(collab.NewPaymentJob(nats, unitID, p, paymentPolicy), env.Now())
		},
		GCPrefixes: func(prefixes []string) {
			gcq.Enqueue(prefixes...)
			rt.Timers.Enqueue(gcq, env.Now())
		},
		PersistEvent: func(key string, payload []byte) {
			safe.Go(func() {
				putCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if putErr := store.PutEvent(putCtx, key, payload); putErr != nil {
					logger.Log.Warn("event write-behind failed",
						zap.String("key", key), zap.Error(putErr))
				}
			})
		},
	}

	// Periodic aggregate snapshot, plus a final one at shutdown.
	rt.Timers.Enqueue(&unit.SaveJob{RT: rt, Store: store, Interval: persistInterval},
		env.Now()+persistInterval.Milliseconds())

	// A no-op update arms the sweep timer for deadlines restored with the
	// aggregate; without traffic they would otherwise wait for the first
	// inbound call.
	if err := rt.ExecuteUpdate(func(*unit.RuntimeState) error { return nil }); err != nil {
		return err
	}

	// Inbound surfaces.
	inbound := api.NewC2C(rt, checker, cfg.Retry.IdempotencyWindow, producer, unitID)
	if err := inbound.Register(nats); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), security.Auth([]byte(cfg.JwtSecret)))
	srv := api.NewServer(rt, producer)
	srv.Payloads = store
	srv.Register(router)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	go func() {
		logger.Infof("unit %s (%s) listening on %s", cfg.UnitID, cfg.UnitKind, httpSrv.Addr)
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Log.Error("http server stopped", zap.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if saveErr := rt.Save(shutdownCtx, store); saveErr != nil {
		logger.Log.Error("final unit snapshot failed", zap.Error(saveErr))
	}
	return httpSrv.Shutdown(shutdownCtx)
}

// loadSection reads the optional JSON config file into the raw section map
// config.Init decodes.
func loadSection(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var section map[string]any
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, err
	}
	return section, nil
}
