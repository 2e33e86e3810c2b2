package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/api"
	"github.com/rryowa/sessionguard/internal/controller"
	"github.com/rryowa/sessionguard/internal/migrations"
	"github.com/rryowa/sessionguard/internal/service"
	"github.com/rryowa/sessionguard/internal/storage"
	"github.com/rryowa/sessionguard/internal/storage/memory"
	"github.com/rryowa/sessionguard/internal/storage/postgres"
	redisstore "github.com/rryowa/sessionguard/internal/storage/redis"
	"github.com/rryowa/sessionguard/internal/util"
)

func main() {
	util.LoadDotEnv(".env")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := util.NewZapLogger()
	defer func() { _ = logger.Sync() }()

	tokenCfg, err := util.NewTokenConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	storeCfg, err := util.NewStoreConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	rotationCfg, err := util.NewRotationConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	redisCfg, err := util.NewRedisConfig()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	redisClient, redisCleanup, err := util.NewRedisClient(logger, redisCfg)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	cleanupFuncs := []func(){redisCleanup}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}()

	apiKeyService := service.NewAPIKeyService(redisClient, logger, util.GetAPIKey())
	if err := apiKeyService.Sync(ctx); err != nil {
		logger.Fatal(zap.Error(err))
	}

	credentialStore, storeCleanup, err := newCredentialStore(storeCfg, redisClient, logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	if storeCleanup != nil {
		cleanupFuncs = append(cleanupFuncs, storeCleanup)
	}
	logger.Infof("Credential store: %s", storeCfg.Backend)

	tokenService := service.NewTokenService(tokenCfg)
	webhookService := service.NewWebhookService(logger, util.GetWebhookURL())
	revoker := service.NewSessionRevoker(credentialStore, logger, storeCfg.Timeout)
	engine := service.NewRotationEngine(tokenService, credentialStore, revoker, webhookService, logger, service.RotationOptions{
		RefreshTTL:   tokenCfg.RefreshTTL,
		StoreTimeout: storeCfg.Timeout,
		IPPolicy:     ipPolicy(rotationCfg.IPMismatchPolicy),
	})
	authService := service.NewAuthService(engine, revoker, tokenService, logger)

	sweeper := service.NewSweeper(credentialStore, rotationCfg.SweepInterval, storeCfg.Timeout, logger)
	go sweeper.Run(ctx)

	ctrl := controller.NewController(logger, authService)

	apiServer, err := api.NewAPI(ctrl, logger, util.NewServerConfig(), util.NewRateLimiterConfig(), apiKeyService)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	apiServer.Run(ctx)
}

// newCredentialStore picks the backend named in the config. The returned
// cleanup may be nil.
func newCredentialStore(cfg *util.StoreConfig, redisClient *redis.Client, logger *zap.SugaredLogger) (storage.CredentialStore, func(), error) {
	switch cfg.Backend {
	case util.StoreBackendRedis:
		return redisstore.NewCredentialStore(redisClient), nil, nil
	case util.StoreBackendPostgres:
		dbCfg, err := util.NewDBConfig()
		if err != nil {
			return nil, nil, err
		}
		db, dbCleanup, err := util.NewDBConnection(logger, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, logger); err != nil {
			dbCleanup()
			return nil, nil, err
		}
		return postgres.NewStorage(db), dbCleanup, nil
	case util.StoreBackendMemory:
		logger.Warn("In-memory credential store selected; sessions do not survive a restart.")
		return memory.NewCredentialStore(logger), nil, nil
	default:
		return nil, nil, errors.Join(util.ErrUnknownStore, fmt.Errorf("backend %q", cfg.Backend))
	}
}

func ipPolicy(name string) service.IPMismatchPolicy {
	if name == util.IPPolicyLog {
		return service.IPMismatchLogOnly
	}
	return service.IPMismatchRevoke
}
