package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"complyhub/internal/config"
	"complyhub/internal/handlers"
	"complyhub/internal/observability"
	"complyhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the HTTP API, trigger dispatcher and scan scheduler",
	Long:  `Run the complyhub server: HTTP API, trigger dispatcher and periodic scanners`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	// 加载配置
	cfg := config.Load()

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}

	// OpenTelemetry 初始化（可选）
	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg, Version)
	if err != nil {
		logrus.Warnf("init tracing: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := newApp(rootCtx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}
	if err := a.store.EnsureIndexes(); err != nil {
		logrus.Warnf("ensure indexes: %v", err)
	}

	// 启动通知推送
	hubDone := make(chan struct{})
	go a.hub.Run(hubDone)

	// 触发器分发：进程内队列或 Kafka
	var (
		triggers services.TriggerQueue
		pending  handlers.PendingCounter
		stopping []func()
	)
	switch cfg.Automation.Dispatcher.Backend {
	case "kafka":
		q := services.NewKafkaTriggerQueue(cfg.Kafka.Brokers, cfg.Kafka.TriggerTopic)
		consumer := services.NewKafkaTriggerConsumer(cfg.Kafka.Brokers, cfg.Kafka.TriggerTopic, cfg.Kafka.GroupID, a.engine, a.logger)
		go consumer.Run(rootCtx)
		triggers = q
		stopping = append(stopping, func() {
			_ = q.Close()
			_ = consumer.Close()
		})
		logrus.Infof("trigger dispatcher: kafka topic %s", cfg.Kafka.TriggerTopic)
	default:
		d := services.NewInProcessDispatcher(a.engine, cfg.Automation.Dispatcher.Workers, cfg.Automation.Dispatcher.QueueSize, a.logger)
		d.Start(rootCtx)
		triggers, pending = d, d
		stopping = append(stopping, d.Close)
	}

	// 周期扫描
	scheduler := services.NewScanScheduler(a.logger, 0)
	if cfg.Automation.Scanners.Enabled {
		if err := scheduler.Add(cfg.Automation.Scanners.CertificateSchedule, a.certificates); err != nil {
			logrus.Fatalf("Failed to schedule scanner: %v", err)
		}
		if err := scheduler.Add(cfg.Automation.Scanners.OverdueTaskSchedule, a.overdue); err != nil {
			logrus.Fatalf("Failed to schedule scanner: %v", err)
		}
	}
	if cfg.Automation.Dedup.Enabled {
		if err := scheduler.AddJob("@hourly", "prune_watermarks", func(ctx context.Context) error {
			n, err := a.store.PruneWatermarks(ctx, time.Now())
			if n > 0 {
				a.logger.Infof("pruned %d expired fire watermarks", n)
			}
			return err
		}); err != nil {
			logrus.Fatalf("Failed to schedule watermark pruning: %v", err)
		}
	}
	scheduler.Start()

	// 设置 Gin 模式
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	activity := a.activity
	router := handlers.SetupRouter(cfg, handlers.RouterDeps{
		Automation:    handlers.NewAutomationHandler(a.automation, triggers, a.logger, a.scanners()...),
		Tasks:         handlers.NewTaskHandler(services.NewTaskService(a.store, triggers, activity, a.logger), a.logger),
		Members:       handlers.NewMemberHandler(services.NewMemberService(a.store, triggers, activity, a.logger), a.logger),
		Notifications: handlers.NewNotificationHandler(a.notifications, a.hub, a.logger),
		Health:        handlers.NewHealthHandler(a.db, a.redis, Version, a.logger),
		Metrics:       handlers.NewMetricsHandler(a.hub, pending, Version),
	})

	var handler http.Handler = router
	if cfg.Monitoring.Tracing.Enabled {
		handler = otelhttp.NewHandler(router, observability.ServiceName(cfg))
	}

	// 创建服务器
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	go func() {
		logrus.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// 优雅关闭：先停入口，再停扫描，最后排空分发队列
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	scheduler.Stop(ctx)
	for _, fn := range stopping {
		fn()
	}
	stop()
	close(hubDone)
	a.close()
	if err := shutdownTracing(ctx); err != nil {
		logrus.Warnf("tracing shutdown: %v", err)
	}

	logrus.Info("Server exited")
}
