/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/logging"
	"github.com/racedesk/apiserver/internal/mq"
	"github.com/racedesk/apiserver/internal/notify"
	"github.com/racedesk/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Dispatch pilot notifications for new messages",
	Long: `Consumes message.created events from the configured broker and sends one
notification per recipient. Requires MQ_BACKEND=rabbitmq or pubsub.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.MQBackend != config.MQBackendRabbitMQ && cfg.MQBackend != config.MQBackendPubSub {
			return errors.New("notify needs MQ_BACKEND to be rabbitmq or pubsub")
		}
		logger := logging.Setup(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := server.OpenEvents(ctx, cfg)
		if err != nil {
			return err
		}
		defer events.Close()

		stores, err := server.OpenStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		dispatcher := notify.NewDispatcher(stores.Users, nil, logger)
		logger.Info("waiting for events", "channel", mq.ChannelMessagesCreated)
		if err := events.SubscribeEvents(ctx, mq.ChannelMessagesCreated, dispatcher.Handle); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}
