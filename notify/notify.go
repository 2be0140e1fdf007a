// Package notify delivers investor notifications. Delivery is best effort:
// callers dispatch after their transaction committed and never roll back on
// a notification failure.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
)

type Kind string

const (
	PairingCreated    Kind = "pairing.created"
	InvestmentMatured Kind = "investment.matured"
	PairingConfirmed  Kind = "pairing.confirmed"
	WaitingCancelled  Kind = "waiting.cancelled"
	ReferralEarned    Kind = "referral.earned"
	SaleListed        Kind = "sale.listed"
	SaleCompleted     Kind = "sale.completed"
)

// Payload carries event specific fields.
type Payload map[string]interface{}

type Event struct {
	ID         string    `json:"id"`
	InvestorID uint      `json:"investor_id"`
	Kind       Kind      `json:"kind"`
	Payload    Payload   `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewEvent(investorID uint, kind Kind, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		InvestorID: investorID,
		Kind:       kind,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

type Dispatcher interface {
	Notify(ctx context.Context, investorID uint, kind Kind, payload Payload) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, uint, Kind, Payload) error { return nil }

// LogDispatcher writes notifications to the service log.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	log = logger.OrNop(log)
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, investorID uint, kind Kind, payload Payload) error {
	d.log.Info("notification",
		zap.Uint("investor_id", investorID),
		zap.String("kind", string(kind)),
		zap.Any("payload", payload),
	)
	return nil
}

// RedisDispatcher publishes each event as JSON on a pub/sub channel.
type RedisDispatcher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisDispatcher(client redis.UniversalClient, channel string) *RedisDispatcher {
	return &RedisDispatcher{client: client, channel: channel}
}

func (d *RedisDispatcher) Notify(ctx context.Context, investorID uint, kind Kind, payload Payload) error {
	body, err := json.Marshal(NewEvent(investorID, kind, payload))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, body).Err(); err != nil {
		return fmt.Errorf("publish notification on %s: %w", d.channel, err)
	}
	return nil
}

// Multi fans a notification out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, investorID uint, kind Kind, payload Payload) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, investorID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
