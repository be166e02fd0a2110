package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emeka-okafor/kudipal/config"
	"github.com/emeka-okafor/kudipal/controllers"
	"github.com/emeka-okafor/kudipal/routes"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/coordinator"
	"github.com/emeka-okafor/kudipal/services/dispatch"
	"github.com/emeka-okafor/kudipal/services/flows"
	"github.com/emeka-okafor/kudipal/services/intent"
	"github.com/emeka-okafor/kudipal/services/kv"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/onboarding"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/services/storage"
	"github.com/emeka-okafor/kudipal/services/transactions"
	"github.com/emeka-okafor/kudipal/services/whatsapp"
	"github.com/emeka-okafor/kudipal/utils"
)

func main() {
	if err := utils.InitLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg := config.Load()
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Storage: Postgres when configured, otherwise in-memory so the service
	// still answers (state is lost on restart).
	var (
		users       ports.UserStore
		ledgerStore ports.LedgerStore
		dbAttached  bool
	)
	if cfg.HasDatabase() {
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		users = storage.NewGormUserStore(db)
		ledgerStore = storage.NewGormLedgerStore(db)
		dbAttached = true
	} else {
		utils.LogWarn("No database configured, using in-memory storage")
		users = storage.NewMemoryUserStore()
		ledgerStore = storage.NewMemoryLedgerStore()
	}

	// Volatile KV: Redis when configured, in-memory otherwise.
	var (
		kvStore       ports.KVStore
		redisAttached bool
	)
	if cfg.HasRedis() {
		client, err := config.InitRedis(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize redis: %v", err)
		}
		kvStore = kv.NewRedisStore(client)
		redisAttached = true
	} else {
		utils.LogWarn("No redis configured, using in-memory KV store")
		kvStore = kv.NewMemoryStore()
	}

	msgr := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	ledg := ledger.New(ledgerStore, ledger.Options{
		DefaultDailyLimit:   cfg.DailyLimit,
		DefaultMonthlyLimit: cfg.MonthlyLimit,
	})
	conv := conversation.NewStore(kvStore)
	resolver := intent.NewResolver(nil)

	var mailer *utils.Mailer
	if cfg.SMTPHost != "" {
		mailer = &utils.Mailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}
	}

	// Provider adapters attach here once partners are contracted; until then
	// the machine and orchestrator degrade to polite unavailability.
	var (
		bank ports.BankClient
		vas  ports.VasClient
		kyc  ports.KYCClient
	)

	machine := onboarding.NewMachine(users, ledg, msgr, conv, kyc, bank)
	orch := transactions.NewOrchestrator(users, ledg, conv, msgr, bank, vas, transactions.FeePolicy{
		TransferFlat: cfg.TransferFeeFlat,
		TransferRate: cfg.TransferFeeRate,
		UtilityFlat:  cfg.UtilityFeeFlat,
	})

	flowKey := loadFlowKey(cfg)
	flowService := flows.NewService(
		flowKey,
		flows.NewTokens(cfg.FlowTokenSecret),
		flows.NewSessions(kvStore),
		users, msgr, conv, ledg, machine, orch,
		flows.FlowIDs{
			Onboarding:   cfg.FlowIDOnboarding,
			TransferPIN:  cfg.FlowIDTransferPIN,
			DataPurchase: cfg.FlowIDDataPlans,
		},
	)
	machine.SetFlowLauncher(flowService)
	orch.SetFlowLauncher(flowService)

	coord := coordinator.New(coordinator.Options{
		Workers:        cfg.WorkerPoolSize,
		HandlerTimeout: cfg.HandlerTimeout,
	})

	router := dispatch.NewRouter(dispatch.RouterDeps{
		Users:    users,
		KV:       kvStore,
		Conv:     conv,
		Coord:    coord,
		Resolver: resolver,
		Msgr:     msgr,
		Ledger:   ledg,
		Onb:      machine,
		Orch:     orch,
		Mailer:   mailer,
	})

	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	reconciler := transactions.NewReconciler(users, ledg, msgr, bank, vas, mailer, cfg.OpsEmail)
	go reconciler.Run(reconcilerCtx)

	engine := routes.Setup(routes.Controllers{
		Webhook: controllers.NewWebhookController(router, cfg.WhatsAppVerifyToken),
		Flow:    controllers.NewFlowController(flowService),
		Health:  controllers.NewHealthController(dbAttached, redisAttached),
	}, cfg.WhatsAppAppSecret)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go func() {
		utils.LogInfo("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	utils.LogInfo("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.LogError("HTTP shutdown failed: %v", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Coordinator shutdown incomplete: %v", err)
	}
	stopReconciler()
	utils.LogInfo("Shutdown complete")
}

func loadFlowKey(cfg *config.Config) *rsa.PrivateKey {
	if cfg.FlowPrivateKey == "" {
		utils.LogWarn("FLOW_PRIVATE_KEY not set, flow endpoint disabled")
		return nil
	}
	key, err := flows.LoadPrivateKey(cfg.FlowPrivateKey, cfg.FlowKeyPassphrase)
	if err != nil {
		utils.LogError("Failed to load flow private key: %v", err)
		return nil
	}
	return key
}
