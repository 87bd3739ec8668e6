package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ChemResponse-Chain/internal/agent"
	"ChemResponse-Chain/internal/api"
	"ChemResponse-Chain/internal/observability/metrics"
	"ChemResponse-Chain/internal/task"
	"ChemResponse-Chain/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 REST 服务与后台处理器",
	Long: `启动 API 服务接收事故描述，运行记录写入 storage.task_store，任务经 task_queue 投递给后台处理器执行。
配置了 server.metrics_address 时，Prometheus 指标在独立端口暴露，否则挂在 API 的 /metrics 下。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Address = addr
		}
		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = cfg.TaskQueue.Worker
		}

		ctx := cmd.Context()
		log := logger.Named("serve")
		var cleanup closers
		defer cleanup.close()

		m := metrics.New()
		client, sampler, err := buildLLM(ctx, cfg.LLM, &cleanup)
		if err != nil {
			return err
		}
		m.RegisterUsage(sampler.Usage)

		store, err := buildStore(ctx, cfg.Storage.TaskStore)
		if err != nil {
			return err
		}
		cleanup.add(store.Close)
		queue, err := buildQueue(ctx, cfg.TaskQueue)
		if err != nil {
			return err
		}
		cleanup.add(queue.Close)
		sink, err := buildSink(cfg.Report)
		if err != nil {
			return err
		}
		alerter := buildAlerter(cfg.Alerting)

		kb, err := buildKnowledge(cfg.Knowledge)
		if err != nil {
			return err
		}
		ag := agent.New(client, sink,
			agent.WithNumResponses(cfg.Pipeline.NumResponses),
			agent.WithKnowledge(kb),
			agent.WithObserver(m),
			agent.WithAlertDispatcher(alerter),
		)
		service := task.NewService(store, queue, cfg.Storage.TaskStore.Retries)
		processor := task.NewProcessor(ag, store, queue, queue,
			task.WithWorkerCount(workers),
			task.WithRecoveryHandler(task.EscalationRecovery{}),
			task.WithAlertDispatcher(alerter),
			task.WithMetrics(m),
		)

		authSvc, err := buildAuth(cfg.Auth)
		if err != nil {
			return err
		}
		serverOpts := []api.Option{api.WithAuth(authSvc)}
		if cfg.Server.MetricsAddress == "" {
			serverOpts = append(serverOpts, api.WithMetrics(m))
		}
		server := api.NewServer(cfg.Server.Address, service, serverOpts...)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
		g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
		if cfg.Server.MetricsAddress != "" {
			g.Go(func() error {
				return ignoreCanceled(metrics.StartServer(gctx, cfg.Server.MetricsAddress, m.Handler()))
			})
		}

		log.Info("服务已启动",
			slog.String("addr", cfg.Server.Address),
			slog.String("metrics_addr", cfg.Server.MetricsAddress),
			slog.String("provider", cfg.LLM.Provider),
			slog.String("store", cfg.Storage.TaskStore.Driver),
			slog.String("queue", cfg.TaskQueue.Driver),
			slog.String("report", cfg.Report.Driver),
			slog.Int("workers", workers),
			slog.Bool("auth", authSvc.Enabled()),
		)
		err = g.Wait()
		log.Info("服务已停止", slog.Any("error", err))
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "API 监听地址，覆盖 server.address")
	serveCmd.Flags().Int("workers", 0, "后台处理协程数，0 表示使用 task_queue.worker")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
