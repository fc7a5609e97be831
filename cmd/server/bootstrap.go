package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/api"
	"github.com/campusguard/backend/internal/app"
	"github.com/campusguard/backend/internal/app/maintenance"
	iauth "github.com/campusguard/backend/internal/auth"
	"github.com/campusguard/backend/internal/cache"
	"github.com/campusguard/backend/internal/database"
	"github.com/campusguard/backend/internal/feed"
	"github.com/campusguard/backend/internal/middleware"
	"github.com/campusguard/backend/internal/services"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *cache.RedisStore
	Sweeper   *maintenance.Sweeper
	RateStore middleware.RateStore
	Hub       *feed.Hub
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, background
// sweeper, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Timeout:  cfg.Cache.Redis.Timeout,
		}); err != nil {
			log.Warn("redis unavailable; falling back to database-backed counters", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	localAuth, err := iauth.NewLocalAuthenticator(stack.DB, iauth.LocalConfig{
		LockoutThreshold: cfg.Auth.Local.LockoutThreshold,
		LockoutDuration:  cfg.Auth.Local.LockoutDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise authenticator: %w", err)
	}

	mailer := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		Timeout:  cfg.Email.SMTP.Timeout,
	})

	verificationSvc, err := services.NewVerificationService(stack.DB, mailer,
		services.WithVerificationTTL(cfg.Auth.Verification.TokenTTL))
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	profileSvc, err := services.NewProfileService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise profile service: %w", err)
	}

	stack.Hub = feed.NewHub()

	beaconSvc, err := services.NewBeaconService(stack.DB, stack.Hub,
		services.WithBeaconDurations(cfg.Beacon.DefaultDuration, cfg.Beacon.ExtendDuration))
	if err != nil {
		return nil, fmt.Errorf("initialise beacon service: %w", err)
	}
	if err := beaconSvc.SyncActiveGauge(ctx); err != nil {
		return nil, fmt.Errorf("restore active beacon gauge: %w", err)
	}

	emergencySvc, err := services.NewEmergencyService(stack.DB, stack.Hub,
		services.WithDispatchDelay(cfg.Emergency.DispatchDelay))
	if err != nil {
		return nil, fmt.Errorf("initialise emergency service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Sweeper = maintenance.NewSweeper(stack.DB, beaconSvc, emergencySvc, dbStore,
			maintenance.WithBeaconSchedule(cfg.Maintenance.BeaconSpec),
			maintenance.WithDispatchSchedule(cfg.Maintenance.DispatchSpec),
			maintenance.WithTokenSchedule(cfg.Maintenance.TokenSpec),
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSpec),
		)
		if err := stack.Sweeper.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	if stack.Redis != nil {
		stack.RateStore = middleware.NewSharedRateStore(stack.Redis)
	} else {
		stack.RateStore = middleware.NewSharedRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:           stack.DB,
		Config:       cfg,
		JWT:          jwtSvc,
		Local:        localAuth,
		Verification: verificationSvc,
		Profiles:     profileSvc,
		Beacons:      beaconSvc,
		Emergencies:  emergencySvc,
		Hub:          stack.Hub,
		RateStore:    stack.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Sweeper.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.MigrateAll(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
