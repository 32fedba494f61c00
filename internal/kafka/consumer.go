// Package kafka ingests platform events published out-of-band (system
// notifications, moderation deletions) and hands them to the fan-out engine.
package kafka

import (
	"context"
	"errors"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/observability"
)

type Handler interface {
	Handle(ctx context.Context, record []byte)
}

type Consumer struct {
	client  *kgo.Client
	handler Handler
}

func New(brokers, topics []string, group string, handler Handler) (*Consumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions revoked")
		}),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions assigned")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: cl, handler: handler}, nil
}

func (c *Consumer) Start(ctx context.Context) {
	go func() {
		log := observability.GetLogger(ctx)
		log.Info("kafka consumer started")
		for {
			select {
			case <-ctx.Done():
				log.Info("kafka consumer loop stopping: context canceled")
				return
			default:
				fetches := c.client.PollFetches(ctx)
				if errs := fetches.Errors(); len(errs) > 0 {
					for _, ferr := range errs {
						if errors.Is(ferr.Err, context.Canceled) {
							return
						}
						log.Error("kafka fetch error", zap.String("topic", ferr.Topic), zap.Int32("partition", ferr.Partition), zap.Error(ferr.Err))
					}
					continue
				}

				fetches.EachRecord(func(r *kgo.Record) {
					c.handler.Handle(ctx, r.Value)
				})
			}
		}
	}()
}

func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
