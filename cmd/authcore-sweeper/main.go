// Command authcore-sweeper runs the periodic expired-session sweep
// against a shared Redis store. Intended to run as a single instance
// alongside horizontally scaled API servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trailverse/authcore"
	"github.com/trailverse/authcore/maintenance"
)

type config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	Schedule      string
	LogLevel      string
	RunOnce       bool
}

func loadConfig() (config, error) {
	v := viper.New()
	v.SetConfigName("authcore-sweeper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/authcore")

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("key_prefix", authcore.DefaultKeyPrefix)
	v.SetDefault("schedule", "@hourly")
	v.SetDefault("log_level", "info")
	v.SetDefault("run_once", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; env and defaults apply.
	}

	return config{
		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),
		KeyPrefix:     v.GetString("key_prefix"),
		Schedule:      v.GetString("schedule"),
		LogLevel:      v.GetString("log_level"),
		RunOnce:       v.GetBool("run_once"),
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	svc, err := authcore.New(rdb, authcore.Config{
		KeyPrefix: cfg.KeyPrefix,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	sweeper := maintenance.NewSweeper(svc,
		maintenance.WithSchedule(cfg.Schedule),
		maintenance.WithLogger(log),
	)

	if cfg.RunOnce {
		return sweeper.RunOnce(context.Background())
	}

	if err := sweeper.Start(); err != nil {
		return err
	}
	log.Info("sweeper started",
		zap.String("schedule", cfg.Schedule),
		zap.String("redis_addr", cfg.RedisAddr),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	<-sweeper.Stop().Done()
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
