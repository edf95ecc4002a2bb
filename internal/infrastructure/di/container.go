package di

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piogold/ico_service/internal/api/handlers"
	adminhandlers "github.com/piogold/ico_service/internal/api/handlers/admin"
	"github.com/piogold/ico_service/internal/api/middleware"
	"github.com/piogold/ico_service/internal/domain/services/admin"
	"github.com/piogold/ico_service/internal/domain/services/orders"
	"github.com/piogold/ico_service/internal/domain/services/payment"
	"github.com/piogold/ico_service/internal/domain/services/payout"
	"github.com/piogold/ico_service/internal/domain/services/pricing"
	"github.com/piogold/ico_service/internal/domain/services/referral"
	"github.com/piogold/ico_service/internal/domain/services/settings"
	"github.com/piogold/ico_service/internal/domain/services/users"
	"github.com/piogold/ico_service/internal/infrastructure/cache"
	"github.com/piogold/ico_service/internal/infrastructure/chain"
	"github.com/piogold/ico_service/internal/infrastructure/config"
	"github.com/piogold/ico_service/internal/infrastructure/database"
	"github.com/piogold/ico_service/internal/infrastructure/repositories"
	"github.com/piogold/ico_service/internal/workers/settlement"
	"github.com/piogold/ico_service/pkg/crypto"
	"github.com/piogold/ico_service/pkg/logger"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	UserRepo             *repositories.UserRepository
	OrderRepo            *repositories.OrderRepository
	ReferralRepo         *repositories.ReferralRepository
	SettingsRepo         *repositories.SettingsRepository
	OfferRepo            *repositories.OfferRepository
	ChainTransactionRepo *repositories.ChainTransactionRepository
	AdminRepo            *repositories.AdminRepository

	// External Services
	RedisClient *cache.RedisClient // nil when redis is not configured
	BSCClient   *chain.Client
	PioClient   *chain.Client
	Cipher      *crypto.Cipher

	// Domain Services
	PricingEngine    *pricing.Engine
	SettingsService  *settings.Service
	ReferralLedger   *referral.Ledger
	UserService      *users.Service
	PaymentWatcher   *payment.Watcher
	PayoutDispatcher *payout.Dispatcher
	OrderService     *orders.Service
	AdminService     *admin.Service

	// Workers
	SettlementPool *settlement.Pool

	// Handlers
	ICOHandlers    *handlers.ICOHandlers
	UserHandlers   *handlers.UserHandlers
	HealthHandlers *handlers.HealthHandler
	AdminHandlers  *adminhandlers.AdminHandlers
	LoginLimiter   *middleware.LoginLimiter
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		ZapLog: zapLog,

		UserRepo:             repositories.NewUserRepository(db, zapLog),
		OrderRepo:            repositories.NewOrderRepository(db, zapLog),
		ReferralRepo:         repositories.NewReferralRepository(db, zapLog),
		SettingsRepo:         repositories.NewSettingsRepository(db, zapLog),
		OfferRepo:            repositories.NewOfferRepository(db, zapLog),
		ChainTransactionRepo: repositories.NewChainTransactionRepository(db, zapLog),
		AdminRepo:            repositories.NewAdminRepository(db, zapLog),
	}

	if err := c.initializeExternalServices(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initializeDomainServices(); err != nil {
		c.Close()
		return nil, err
	}
	c.initializeHandlers()

	return c, nil
}

func (c *Container) initializeExternalServices(ctx context.Context) error {
	cfg := c.Config

	cipher, err := crypto.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize key cipher: %w", err)
	}
	c.Cipher = cipher

	if cfg.Redis.Enabled() {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, c.ZapLog)
		if err != nil {
			return err
		}
		c.RedisClient = redisClient
	} else {
		c.ZapLog.Warn("Redis not configured, settings cache and signer lock disabled")
	}

	bsc := cfg.Chains.BSC
	c.BSCClient, err = chain.Dial(ctx, chain.Config{
		Name:    bsc.Name,
		RPC:     bsc.RPC,
		ChainID: bsc.ChainID,
		Timeout: bsc.RPCTimeout,
	}, c.ZapLog)
	if err != nil {
		return err
	}

	pio := cfg.Chains.PioGold
	c.PioClient, err = chain.Dial(ctx, chain.Config{
		Name:    pio.Name,
		RPC:     pio.RPC,
		ChainID: pio.ChainID,
		Timeout: pio.RPCTimeout,
	}, c.ZapLog)
	if err != nil {
		return err
	}

	return nil
}

func (c *Container) initializeDomainServices() error {
	cfg := c.Config

	minUsdt, err := decimal.NewFromString(cfg.Purchase.MinUSDT)
	if err != nil {
		return fmt.Errorf("invalid purchase.min_usdt %q: %w", cfg.Purchase.MinUSDT, err)
	}
	c.PricingEngine = pricing.NewEngine(minUsdt)

	// A typed nil would make the optional interfaces non-nil.
	var settingsCache settings.Cache
	var signerLock payout.Locker
	if c.RedisClient != nil {
		settingsCache = c.RedisClient
		signerLock = c.RedisClient
	}

	c.SettingsService = settings.NewService(
		c.SettingsRepo,
		c.OfferRepo,
		settingsCache,
		cfg.Redis.SettingsTTL,
		c.Cipher,
		minUsdt,
		settings.ChainInfo{
			PaymentChainID: cfg.Chains.BSC.ChainID,
			USDTContract:   cfg.Chains.BSC.USDTContract,
			PayoutChainID:  cfg.Chains.PioGold.ChainID,
		},
		c.ZapLog,
	)

	c.ReferralLedger = referral.NewLedger(c.UserRepo, c.ReferralRepo, c.ZapLog)
	c.UserService = users.NewService(c.UserRepo, c.OrderRepo, c.ReferralLedger, users.Options{
		ReferralRequired: cfg.Referral.Required,
		CodeLength:       cfg.Referral.CodeLength,
	}, c.ZapLog)

	bsc := cfg.Chains.BSC
	c.PaymentWatcher = payment.NewWatcher(payment.Config{
		TokenContract: common.HexToAddress(bsc.USDTContract),
		TokenDecimals: bsc.USDTDecimals,
		Confirmations: bsc.Confirmations,
		PollInterval:  bsc.PollInterval,
		MaxAttempts:   bsc.MaxAttempts,
	}, c.BSCClient, c.ZapLog)

	pio := cfg.Chains.PioGold
	c.PayoutDispatcher = payout.NewDispatcher(payout.Config{
		ChainID:             pio.ChainID,
		Decimals:            pio.Decimals,
		GasLimit:            pio.GasLimit,
		Confirmations:       pio.Confirmations,
		ReceiptPollInterval: pio.ReceiptPollInterval,
		ReceiptMaxAttempts:  pio.ReceiptMaxAttempts,
		MaxRetries:          pio.MaxRetries,
		BaseBackoff:         pio.BaseBackoff,
		QueueSize:           pio.QueueSize,
		LockTTL:             cfg.Redis.LockTTL,
		LockWait:            cfg.Redis.LockWait,
	}, c.PioClient, c.SettingsService, c.Cipher, signerLock, c.ZapLog)

	c.OrderService = orders.NewService(
		c.OrderRepo,
		c.ChainTransactionRepo,
		c.SettingsService,
		c.UserService,
		c.PricingEngine,
		c.PaymentWatcher,
		c.PayoutDispatcher,
		c.ReferralLedger,
		c.ZapLog,
	)

	poolConfig := settlement.DefaultConfig()
	st := cfg.Settlement
	if st.WorkerCount > 0 {
		poolConfig.WorkerCount = st.WorkerCount
	}
	if st.QueueSize > 0 {
		poolConfig.QueueSize = st.QueueSize
	}
	if st.SweepSchedule != "" {
		poolConfig.SweepSchedule = st.SweepSchedule
	}
	if st.SweepMinAge > 0 {
		poolConfig.SweepMinAge = st.SweepMinAge
	}
	if st.SweepBatch > 0 {
		poolConfig.SweepBatch = st.SweepBatch
	}
	c.SettlementPool = settlement.NewPool(poolConfig, c.OrderService, c.ZapLog)
	c.OrderService.SetScheduler(c.SettlementPool)

	c.AdminService = admin.NewService(
		c.AdminRepo,
		c.AdminRepo,
		c.ChainTransactionRepo,
		c.SettingsService,
		c.Cipher,
		admin.TokenConfig{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
			TTL:    cfg.JWT.AccessTTL,
		},
		c.ZapLog,
	)

	return nil
}

func (c *Container) initializeHandlers() {
	c.ICOHandlers = handlers.NewICOHandlers(c.OrderService, c.SettingsService, c.ZapLog)
	c.UserHandlers = handlers.NewUserHandlers(c.UserService, c.ZapLog)
	c.AdminHandlers = adminhandlers.NewAdminHandlers(
		c.AdminService,
		c.SettingsService,
		c.OrderService,
		c.ReferralLedger,
		c.UserService,
		c.ZapLog,
	)

	c.LoginLimiter = middleware.NewLoginLimiter(c.Config.Server.LoginPerMin)

	c.HealthHandlers = handlers.NewHealthHandler(c.ZapLog, Version)
	c.HealthHandlers.AddCheck("database", true, func(ctx context.Context) error {
		return database.HealthCheck(ctx, c.DB)
	})
	c.HealthHandlers.AddCheck(c.BSCClient.Name(), false, c.BSCClient.Ping)
	c.HealthHandlers.AddCheck(c.PioClient.Name(), false, c.PioClient.Ping)
	if c.RedisClient != nil {
		c.HealthHandlers.AddCheck("redis", false, c.RedisClient.Ping)
	}
}

// Close releases the external connections. The database is owned by the caller.
func (c *Container) Close() {
	if c.LoginLimiter != nil {
		c.LoginLimiter.Stop()
	}
	if c.BSCClient != nil {
		c.BSCClient.Close()
	}
	if c.PioClient != nil {
		c.PioClient.Close()
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.ZapLog.Warn("Failed to close redis", zap.Error(err))
		}
	}
}
