package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/recall-knowledge/internal/api"
	"github.com/aiwuxian/recall-knowledge/internal/logger"
	"github.com/aiwuxian/recall-knowledge/internal/models"
	"github.com/aiwuxian/recall-knowledge/internal/services"
	"github.com/aiwuxian/recall-knowledge/internal/storage"
)

func main() {
	// 加载配置
	config, err := loadConfig("config.yml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zl, err := logger.New(logger.Config{
		Level:      config.Log.Level,
		Encoding:   config.Log.Encoding,
		OutputPath: config.Log.OutputPath,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zl.Sync()

	// 初始化数据库
	var (
		dir   api.Directory
		flags services.FlagStore
	)
	switch config.Database.Driver {
	case "memory":
		mem := storage.NewMemoryStore()
		dir, flags = mem, mem
	default:
		store, err := storage.New(config.Database.Path)
		if err != nil {
			zl.Fatal("初始化数据库失败", zap.Error(err))
		}
		defer store.Close()
		dir, flags = store, store
	}

	if config.Database.Driver == "redis" {
		opts, err := storage.ParseRedisURL(config.Database.RedisAddr, config.Database.RedisDB)
		if err != nil {
			zl.Fatal("Redis配置错误", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer client.Close()

		rs := storage.NewRedisStore(client, zl)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rs.Ping(ctx)
		cancel()
		if err != nil {
			zl.Fatal("连接Redis失败", zap.Error(err), zap.String("addr", opts.Addr))
		}
		flags = rs
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// 初始化服务
	manager := api.NewConnectionManager(zl)
	ledger := services.NewKnowledgeLedger(flags, zl)
	approval := services.NewApprovalCoordinator(manager, dir, config.Recall.ApprovalTimeout, metrics, zl)

	var fabricator services.FactFabricator
	if config.LLM.Enabled && config.Recall.FalseInfoOnCritFail {
		fabricator = services.NewLLMService(config.LLM, zl)
	}

	recall := services.NewRecallKnowledgeService(services.Deps{
		Actors:     dir,
		Users:      dir,
		Ledger:     ledger,
		Approval:   approval,
		Prompter:   api.NewWSPrompter(manager, zl),
		Announcer:  api.NewWSAnnouncer(manager),
		Roller:     services.NewRuleEngine(),
		Fabricator: fabricator,
		Metrics:    metrics,
		Config:     config.Recall,
		Logger:     zl,
	})

	bus := services.NewEventBus(zl)
	recall.RegisterEvents(bus)

	// 初始化API处理器
	handler := api.NewHandler(recall, dir, bus, manager, registry, zl)

	r := gin.Default()
	handler.Routes(r)

	addr := fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		zl.Info("📚 Recall Knowledge 启动成功", zap.String("addr", addr), zap.String("driver", config.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("启动服务器失败", zap.Error(err))
		}
	}()
	if err := bus.Publish(context.Background(), services.EventReady); err != nil {
		zl.Warn("ready事件处理失败", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("正在关闭服务器...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("关闭服务器失败", zap.Error(err))
	}
}

// loadConfig 读取 config.yml（不存在时使用默认值），再用 RK_ 前缀的环境变量覆盖
func loadConfig(path string) (*models.Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("⚠️  未找到 %s，使用默认配置", path)
	default:
		return nil, err
	}

	if err := envconfig.Process("RK", config); err != nil {
		return nil, fmt.Errorf("读取环境变量失败: %w", err)
	}

	if config.Recall.ApprovalTimeout <= 0 {
		config.Recall.ApprovalTimeout = 2 * time.Minute
	}
	return config, nil
}

func defaultConfig() *models.Config {
	return &models.Config{
		Server:   models.ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Database: models.DatabaseConfig{Driver: "sqlite", Path: "data/recall.db", RedisAddr: "localhost:6379"},
		Log:      models.LogConfig{Level: "info", Encoding: "console"},
		LLM:      models.LLMConfig{Model: "gpt-4o-mini", Temperature: 0.9, MaxTokens: 80},
		Recall:   models.DefaultRecallConfig(),
	}
}
