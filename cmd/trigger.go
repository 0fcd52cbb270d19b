package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/trigger"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <user>",
	Short: "Queue an immediate cycle for a user, run by a serve process",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		enqueue(args[0])
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}

// enqueue only needs redis, the cycle itself runs in serve.
func enqueue(userID string) {
	zlog, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Service: app,
	})
	if err != nil {
		fatal("creating a logger", err)
	}

	config, err := getConfig()
	if err != nil {
		zlog.Fatal("getting a config", zap.Error(err))
	}

	redisOpt, err := asynq.ParseRedisURI(config.Redis.URL)
	if err != nil {
		zlog.Fatal("parsing redis url", zap.Error(err), zap.String("hint", "set redis.url or HH_AUTOPILOT_REDIS_URL"))
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	taskID, err := trigger.NewQueue(client, zlog).Enqueue(context.Background(), userID)
	if errors.Is(err, trigger.ErrAlreadyQueued) {
		zlog.Info("a cycle is already queued", zap.String(logger.FieldUser, userID))
		return
	}
	if err != nil {
		zlog.Fatal("queueing the cycle", zap.Error(err))
	}

	fmt.Println(taskID)
}
