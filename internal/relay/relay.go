// Package relay fans frames out across service instances over Redis
// pub/sub. Each instance broadcasts what it publishes locally; peers deliver
// to their own registered connections without re-persisting.
package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/observability"
)

const pubsubChannel = "fanout:broadcast"

type envelope struct {
	InstanceID string        `json:"instance_id"`
	Channel    event.Channel `json:"channel"`
	Frame      []byte        `json:"frame"`
}

type Relay struct {
	client     *redis.Client
	instanceID string
}

func New(client *redis.Client, instanceID string) *Relay {
	return &Relay{client: client, instanceID: instanceID}
}

func (r *Relay) Forward(ctx context.Context, ch event.Channel, frame []byte) error {
	payload, err := json.Marshal(envelope{
		InstanceID: r.instanceID,
		Channel:    ch,
		Frame:      frame,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, pubsubChannel, payload).Err()
}

// Subscribe delivers peer frames to handler. Frames this instance forwarded
// itself are skipped; local subscribers already got them.
func (r *Relay) Subscribe(ctx context.Context, handler func(ctx context.Context, ch event.Channel, frame []byte)) {
	pubsub := r.client.Subscribe(ctx, pubsubChannel)

	go func() {
		log := observability.GetLogger(ctx)
		log.Info("relay: subscribed", zap.String("channel", pubsubChannel))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("relay: subscription loop stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("relay: pubsub channel closed")
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Error("relay: malformed envelope", zap.Error(err))
					continue
				}
				if env.InstanceID == r.instanceID {
					continue
				}
				handler(ctx, env.Channel, env.Frame)
			}
		}
	}()
}
