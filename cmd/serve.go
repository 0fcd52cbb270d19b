package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/hh-autopilot/internal/server"
	"github.com/spigell/hh-autopilot/internal/trigger"
	"github.com/spigell/hh-autopilot/internal/users"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the trigger worker and the HTTP server until interrupted",
	Run: func(cmd *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		fatal("starting the hh-autopilot", err)
	}
	defer a.Close()

	logger := a.logger
	logger.Info("starting the hh-autopilot", zap.String("version", buildVersion()))

	sched, err := a.newScheduler(ctx)
	if err != nil {
		logger.Fatal("building the scheduler", zap.Error(err))
	}

	redisOpt, err := asynq.ParseRedisURI(a.config.Redis.URL)
	if err != nil {
		logger.Fatal("parsing redis url for the trigger queue", zap.Error(err))
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	worker := trigger.NewServer(redisOpt, a.config.Triggers.Concurrency, logger)
	mux := trigger.NewMux(trigger.NewHandler(sched, logger), a.metrics)

	serverOpts, err := a.serverOptions()
	if err != nil {
		logger.Fatal("loading the server token", zap.Error(err))
	}

	httpServer := server.New(server.Deps{
		OAuth:    a.oauth,
		Resumes:  a.hh,
		Users:    a.users,
		Triggers: trigger.NewQueue(asynqClient, logger),
		Metrics:  a.metrics,
		Health: map[string]server.Check{
			"postgres": a.store.Ping,
			"redis": func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			},
		},
	}, serverOpts, logger)

	if err := sched.Start(ctx); err != nil {
		logger.Fatal("starting the scheduler", zap.Error(err))
	}
	if err := worker.Start(mux); err != nil {
		logger.Fatal("starting the trigger worker", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gctx)
	})
	g.Go(func() error {
		return users.Listen(gctx, a.redis, sched, logger)
	})
	g.Go(func() error {
		select {
		case err := <-sched.Fatal():
			return fmt.Errorf("scheduler halted: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()

	worker.Shutdown()
	<-sched.Stop().Done()

	if err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
	logger.Info("exiting", zap.String("reason", "interrupted"))
}
