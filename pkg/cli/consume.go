package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/stream"
)

func newConsumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Move events from Kafka into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			workers, _ := cmd.Flags().GetInt("workers")
			return a.consume(cmd.Context(), workers)
		},
	}
	cmd.Flags().Int("workers", 0, "number of consumer workers (default from BEACON_KAFKA_WORKERS)")
	return cmd
}

func (a *app) consume(parent context.Context, workers int) error {
	ctx, stop := observability.SignalContext(parent)
	defer stop()
	defer a.shutdown.Shutdown()

	k := a.cfg.Kafka
	if len(k.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required: set BEACON_KAFKA_BROKERS")
	}
	if workers <= 0 {
		workers = k.Workers
	}

	cm, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}

	consumer := stream.NewConsumer(
		stream.NewReader(k.Brokers, k.Topic, k.GroupID),
		analytics.NewEventTracker(cm.Primary(), a.metrics),
		workers, a.logger, a.metrics,
	)
	a.shutdown.Register("kafka-reader", func(context.Context) error { return consumer.Close() })

	a.logger.WithField("topic", k.Topic).WithField("group", k.GroupID).WithField("workers", workers).Info("Consumer starting")
	return consumer.Run(ctx)
}
