package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Concierge-Engine/internal/api"
	"Concierge-Engine/internal/config"
	"Concierge-Engine/internal/engine"
	"Concierge-Engine/internal/executor"
	"Concierge-Engine/internal/observability/alerting"
	"Concierge-Engine/internal/observability/metrics"
	"Concierge-Engine/internal/otp"
	"Concierge-Engine/internal/proposal"
	"Concierge-Engine/internal/task"
	"Concierge-Engine/internal/vault"
	"Concierge-Engine/pkg/logger"
)

// main 是 concierge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("conciergd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CONCIERGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "concierge.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 任务存储。MySQL 驱动下凭据、验证码与执行流水复用同一个连接池。
	var (
		taskStore  task.Store
		mysqlStore *task.MySQLStore
	)
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
		if err != nil {
			return err
		}
		mysqlStore = store
		taskStore = store
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		_ = taskStore.Close()
	}()

	if cfg.Storage.Cache.Enabled {
		cached, err := task.NewCachedStore(taskStore, task.CachedStoreConfig{
			Address:  cfg.Storage.Cache.Address,
			Password: cfg.Storage.Cache.Password,
			DB:       cfg.Storage.Cache.DB,
			TTL:      time.Duration(cfg.Storage.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer cached.Close()
		taskStore = cached
	}

	// 凭据保险库。
	var vaultStore vault.Store
	if mysqlStore != nil {
		store, err := vault.NewMySQLStore(mysqlStore.DB())
		if err != nil {
			return err
		}
		vaultStore = store
	} else {
		vaultStore = vault.NewMemoryStore()
	}
	masterKey, err := cfg.ResolveVaultKey()
	if err != nil {
		return err
	}
	credentialVault, err := vault.New(masterKey, vaultStore)
	if err != nil {
		return err
	}

	// 验证码代理。
	var otpStore otp.Store
	if mysqlStore != nil {
		store, err := otp.NewMySQLStore(mysqlStore.DB())
		if err != nil {
			return err
		}
		otpStore = store
	} else {
		otpStore = otp.NewMemoryStore()
	}
	codeBroker, err := otp.NewBroker(otpStore, otp.Config{
		TTL:          time.Duration(cfg.OTP.TTLMinutes) * time.Minute,
		PollInterval: time.Duration(cfg.OTP.PollIntervalSeconds) * time.Second,
		WaitTimeout:  time.Duration(cfg.OTP.WaitTimeoutSeconds) * time.Second,
		DedupWindow:  time.Duration(cfg.OTP.DedupWindowSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	// 执行流水。
	var journal engine.Journal
	if mysqlStore != nil {
		store, err := engine.NewMySQLJournal(mysqlStore.DB())
		if err != nil {
			return err
		}
		journal = store
	} else {
		journal = engine.NewMemoryJournal()
	}

	// 确认队列。
	var confirmQueue task.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		confirmQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		confirmQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		confirmQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := confirmQueue.Close(); err != nil {
			log.Printf("关闭确认队列失败: %v", err)
		}
	}()

	coordinatorOpts := []engine.CoordinatorOption{
		engine.WithProducer(confirmQueue),
		engine.WithStepRetries(cfg.Engine.MaxStepRetries),
		engine.WithRetryBackoff(time.Duration(cfg.Engine.BackoffMS) * time.Millisecond),
		engine.WithOTPWait(
			time.Duration(cfg.OTP.WaitTimeoutSeconds)*time.Second,
			time.Duration(cfg.OTP.PollIntervalSeconds)*time.Second,
		),
	}
	if cfg.Alerting.Enabled {
		coordinatorOpts = append(coordinatorOpts,
			engine.WithAlertDispatcher(alerting.NewLogDispatcher()))
	}

	coordinator, err := engine.NewCoordinator(
		taskStore, journal, credentialVault, codeBroker,
		executor.NewDefaultRegistry(), coordinatorOpts...)
	if err != nil {
		return err
	}

	var proposer task.Proposer
	if cfg.Proposal.RulesPath != "" {
		provider, err := proposal.LoadRuleProvider(cfg.Proposal.RulesPath)
		if err != nil {
			return err
		}
		proposer = provider
	} else {
		proposer = proposal.NewRuleProvider()
	}
	taskService := task.NewService(taskStore, proposer)

	if cfg.Server.MetricsAddress != "" {
		metrics.SetTaskCountsSource(func(ctx context.Context) (map[string]uint64, error) {
			stats, err := taskService.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return stats.Counts(), nil
		})
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	worker := engine.NewWorker(coordinator, confirmQueue,
		engine.WithWorkerCount(cfg.Queue.Worker),
		engine.WithWorkerLogger(logger.L()),
	)
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go func() {
		if err := worker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("确认队列消费异常退出: %v", err)
		}
	}()

	// 找回上次停机时被打断的任务并重新派发。
	if recovered, err := coordinator.Recover(ctx); err != nil {
		log.Printf("启动恢复扫描失败: %v", err)
	} else if recovered > 0 {
		log.Printf("已重新派发 %d 个停机中断的任务", recovered)
	}

	// 周期清理过期验证码。
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := codeBroker.Prune(ctx); err != nil {
					log.Printf("清理过期验证码失败: %v", err)
				}
			}
		}
	}()

	server := api.NewServer(cfg.Server.Address, taskService, coordinator, credentialVault, codeBroker)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
