// Package notify publishes channel updates to Redis subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/statechannels/wallet/channel"
	"github.com/stellar/go/support/log"
)

const DefaultChannel = "wallet_channel_updated"

// Client is the part of a Redis client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes channel results as JSON on a Redis channel.
type Publisher struct {
	Client  Client
	Channel string
	Logger  *log.Entry
}

func (p *Publisher) channel() string {
	if p.Channel == "" {
		return DefaultChannel
	}
	return p.Channel
}

// PublishChannel publishes the result. It returns the number of
// subscribers that received it.
func (p *Publisher) PublishChannel(ctx context.Context, r channel.Result) (int64, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encoding channel %s: %w", r.ChannelID, err)
	}
	n, err := p.Client.Publish(ctx, p.channel(), b).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing channel %s to %s: %w", r.ChannelID, p.channel(), err)
	}
	if p.Logger != nil {
		p.Logger.WithFields(log.F{"channel": r.ChannelID.String(), "subscribers": n}).Debug("published channel")
	}
	return n, nil
}
