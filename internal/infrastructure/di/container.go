package di

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jmoiron/sqlx"

	"github.com/stacklayer/custody-service/internal/adapters/bitcoin"
	"github.com/stacklayer/custody-service/internal/adapters/evm"
	"github.com/stacklayer/custody-service/internal/adapters/safe"
	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/internal/domain/services"
	"github.com/stacklayer/custody-service/internal/domain/services/ledger"
	"github.com/stacklayer/custody-service/internal/infrastructure/cache"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/internal/infrastructure/repositories"
	"github.com/stacklayer/custody-service/internal/workers/chain_watcher"
	"github.com/stacklayer/custody-service/pkg/crypto"
	"github.com/stacklayer/custody-service/pkg/hdwallet"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/queue"
	"github.com/stacklayer/custody-service/pkg/ratelimit"
	"github.com/stacklayer/custody-service/pkg/secrets"
)

// Container wires repositories, adapters and services together.
// Chain adapters are built only for chains enabled in configuration;
// services that depend on optional infrastructure (hot wallet key,
// Safe endpoint) stay nil when that infrastructure is absent and the
// withdrawal service routes around them.
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger

	Redis     cache.RedisClient
	Publisher queue.Publisher

	Secrets     *secrets.Manager
	RateLimiter *ratelimit.TieredLimiter

	DepositAddressRepo *repositories.DepositAddressRepository
	DepositRepo        *repositories.DepositRepository
	LedgerRepo         *repositories.LedgerRepository
	WithdrawalRepo     *repositories.WithdrawalRepository
	DenylistRepo       *repositories.DenylistRepository
	AuditRepo          *repositories.AuditRepository

	LedgerService       *ledger.Service
	AddressService      *services.AddressService
	RiskService         *services.RiskService
	ConfirmationService *services.ConfirmationService
	WithdrawalService   *services.WithdrawalService
	HotWalletService    *services.HotWalletService
	SafeClient          *safe.Client

	// WatcherClients holds one scanning client per enabled chain.
	WatcherClients map[entities.Chain]chain_watcher.ChainClient

	closers []func()
}

// NewContainer builds the full dependency graph
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:         cfg,
		DB:             db,
		Logger:         log,
		WatcherClients: make(map[entities.Chain]chain_watcher.ChainClient),
	}

	// Key material is resolved before anything that consumes it.
	if err := c.resolveSecrets(cfg, log); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		// Balance reads fall back to the ledger on every call.
		log.Warn("Redis unavailable, running without balance cache", "error", err)
	} else {
		c.Redis = redisClient
		c.closers = append(c.closers, func() { redisClient.Close() })
	}

	if cfg.Kafka.Enabled {
		publisher := queue.NewKafkaPublisher(cfg.Kafka.Brokers)
		c.Publisher = publisher
		c.closers = append(c.closers, func() { publisher.Close() })
	} else {
		c.Publisher = queue.NewMockPublisher()
	}

	c.RateLimiter = ratelimit.NewTieredLimiter(c.Redis, ratelimit.TieredConfig{
		UserLimit:  int64(cfg.Server.UserRateLimitPerMin),
		UserWindow: time.Minute,
		EndpointLimits: map[string]ratelimit.EndpointLimit{
			"/api/v1/withdrawals": {
				Limit:  int64(cfg.Server.WithdrawalRateLimitPerMin),
				Window: time.Minute,
			},
		},
	}, log.Zap())

	c.DepositAddressRepo = repositories.NewDepositAddressRepository(db)
	c.DepositRepo = repositories.NewDepositRepository(db)
	c.LedgerRepo = repositories.NewLedgerRepository(db)
	c.WithdrawalRepo = repositories.NewWithdrawalRepository(db)
	c.DenylistRepo = repositories.NewDenylistRepository(db)
	c.AuditRepo = repositories.NewAuditRepository(db)

	deriver, err := buildDeriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("build address deriver: %w", err)
	}

	confirmationClients := make(map[entities.Chain]services.ConfirmationChainClient)
	evmClients := make(map[entities.Chain]services.EVMClient)
	if err := c.buildChainClients(cfg, log, confirmationClients, evmClients); err != nil {
		c.Close()
		return nil, err
	}

	c.LedgerService = ledger.NewService(c.LedgerRepo, c.Redis, log)
	c.AddressService = services.NewAddressService(c.DepositAddressRepo, deriver, log)

	c.RiskService, err = services.NewRiskService(c.DenylistRepo, c.WithdrawalRepo, cfg.Risk, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build risk service: %w", err)
	}

	c.ConfirmationService = services.NewConfirmationService(
		c.DepositRepo,
		c.LedgerService,
		confirmationClients,
		c.Publisher,
		cfg.Workers.BatchSize,
		log,
	)

	var hotWallet services.HotWalletSender
	if cfg.HotWallet.PrivateKey != "" {
		c.HotWalletService, err = services.NewHotWalletService(cfg.HotWallet, evmClients, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("build hot wallet: %w", err)
		}
		hotWallet = c.HotWalletService
	}

	var multisig services.MultisigClient
	if cfg.Safe.ServiceURL != "" && cfg.Safe.SafeAddress != "" {
		c.SafeClient, err = safe.NewClient(cfg.Safe, safeChainID(cfg), log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("build safe client: %w", err)
		}
		multisig = c.SafeClient
	}

	c.WithdrawalService = services.NewWithdrawalService(
		c.WithdrawalRepo,
		c.LedgerService,
		c.RiskService,
		hotWallet,
		multisig,
		confirmationClients,
		c.Publisher,
		log,
	)

	return c, nil
}

// resolveSecrets builds the secrets provider and fills in key material
// the config left blank. Missing optional keys stay empty: the hot
// wallet and Safe paths are disabled without them.
func (c *Container) resolveSecrets(cfg *config.Config, log *logger.Logger) error {
	var provider secrets.Provider
	switch cfg.Secrets.Provider {
	case "aws":
		aws, err := secrets.NewAWSSecretsManagerProvider(
			context.Background(), cfg.Secrets.AWSRegion, cfg.Secrets.AWSPrefix)
		if err != nil {
			return fmt.Errorf("build aws secrets provider: %w", err)
		}
		provider = aws
	default:
		provider = secrets.NewEnvProvider()
	}

	ttl := time.Duration(cfg.Secrets.CacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.Secrets = secrets.NewManager(secrets.NewCachedProvider(provider, ttl))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.JWT.Secret == "" {
		secret, err := c.Secrets.GetJWTSecret(ctx)
		if err != nil {
			return fmt.Errorf("jwt secret: %w", err)
		}
		cfg.JWT.Secret = secret
	}

	if cfg.HotWallet.PrivateKey == "" {
		if key, err := c.Secrets.GetHotWalletKey(ctx); err == nil {
			cfg.HotWallet.PrivateKey = key
		} else {
			log.Info("No hot wallet key available, hot wallet path disabled")
		}
	}

	if cfg.HotWallet.PrivateKey != "" && cfg.HotWallet.PrivateKeyEncrypted {
		encKey, err := c.Secrets.GetEncryptionKey(ctx)
		if err != nil {
			return fmt.Errorf("encryption key: %w", err)
		}
		plain, err := crypto.Decrypt(cfg.HotWallet.PrivateKey, encKey)
		if err != nil {
			return fmt.Errorf("decrypt hot wallet key: %w", err)
		}
		cfg.HotWallet.PrivateKey = plain
	}

	if cfg.Safe.ProposerKey == "" && cfg.Safe.ServiceURL != "" {
		if key, err := c.Secrets.GetSafeProposerKey(ctx); err == nil {
			cfg.Safe.ProposerKey = key
		}
	}

	return nil
}

// buildChainClients creates one node client per enabled chain and
// registers it in every role it can serve.
func (c *Container) buildChainClients(
	cfg *config.Config,
	log *logger.Logger,
	confirmation map[entities.Chain]services.ConfirmationChainClient,
	evmClients map[entities.Chain]services.EVMClient,
) error {
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		chain, err := entities.ParseChain(name)
		if err != nil {
			return fmt.Errorf("unknown chain %q in config: %w", name, err)
		}

		if chain.IsEVM() {
			client, err := evm.NewClient(context.Background(), chain, chainCfg, log)
			if err != nil {
				return fmt.Errorf("connect %s node: %w", chain, err)
			}
			c.closers = append(c.closers, client.Close)
			c.WatcherClients[chain] = client
			confirmation[chain] = client
			evmClients[chain] = client
			continue
		}

		client, err := bitcoin.NewClient(chainCfg, cfg.Custody.BitcoinNetwork, log)
		if err != nil {
			return fmt.Errorf("connect %s node: %w", chain, err)
		}
		c.closers = append(c.closers, client.Close)
		c.WatcherClients[chain] = client
		confirmation[chain] = client
	}
	return nil
}

// buildDeriver collects deposit xpubs from enabled chains
func buildDeriver(cfg *config.Config) (*hdwallet.Deriver, error) {
	xpubs := make(map[entities.Chain]string)
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled || chainCfg.Xpub == "" {
			continue
		}
		chain, err := entities.ParseChain(name)
		if err != nil {
			return nil, err
		}
		xpubs[chain] = chainCfg.Xpub
	}
	return hdwallet.New(xpubs, bitcoinParams(cfg.Custody.BitcoinNetwork))
}

func bitcoinParams(network string) *chaincfg.Params {
	switch network {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// safeChainID resolves the chain the Safe contract lives on
func safeChainID(cfg *config.Config) *big.Int {
	if eth, ok := cfg.Chains[string(entities.ChainEthereum)]; ok && eth.ChainID != 0 {
		return big.NewInt(eth.ChainID)
	}
	return big.NewInt(1)
}

// Close releases adapter connections in reverse creation order
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
