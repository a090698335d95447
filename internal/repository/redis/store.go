// Package redis keeps in-flight checkouts and the per-buyer redemption lock.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
	"github.com/openbuilders/loyalty-checkout/internal/types"

	"github.com/redis/go-redis/v9"
)

var (
	ErrReferenceUsed      = errors.Validation("Reference already used")
	ErrCheckoutNotFound   = errors.NotFound("Checkout not found")
	ErrRedemptionInFlight = errors.Conflict("A coupon redemption is already in progress for this account")
)

// releaseLock deletes the lock only if it is still held by the same
// reference.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	// Retention keeps a checkout readable this long after it expired, so its
	// status can still be reported.
	Retention time.Duration
}

type Store struct {
	config *Config
	client *redis.Client
	log    *slog.Logger
}

func New(config *Config, client *redis.Client) *Store {
	return &Store{
		config: config,
		client: client,
		log:    slog.With("component", "checkout-store"),
	}
}

func checkoutKey(reference solana.PublicKey) string {
	return fmt.Sprintf("checkout:%s", reference)
}

func loyaltyKey(buyer solana.PublicKey) string {
	return fmt.Sprintf("loyalty:%s", buyer)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CreateCheckout records c under its reference. A reference can only be
// recorded once.
func (s *Store) CreateCheckout(ctx context.Context, c *types.Checkout) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkout: %w", err)
	}

	ttl := time.Until(c.ExpiresAt) + s.config.Retention
	if ttl <= 0 {
		return fmt.Errorf("checkout %s already expired", c.Reference)
	}

	ok, err := s.client.SetNX(ctx, checkoutKey(c.Reference), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return ErrReferenceUsed
	}

	return nil
}

func (s *Store) GetCheckout(ctx context.Context, reference solana.PublicKey) (*types.Checkout, error) {
	data, err := s.client.Get(ctx, checkoutKey(reference)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c types.Checkout
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal checkout: %w", err)
	}
	return &c, nil
}

// UpdateCheckout overwrites an existing checkout and keeps its expiry.
func (s *Store) UpdateCheckout(ctx context.Context, c *types.Checkout) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkout: %w", err)
	}

	err = s.client.SetArgs(ctx, checkoutKey(c.Reference), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if stderrors.Is(err, redis.Nil) {
		return ErrCheckoutNotFound
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// AcquireLoyaltyLock marks the buyer's coupons as being redeemed by
// reference. It fails with ErrRedemptionInFlight while another checkout
// holds the lock.
func (s *Store) AcquireLoyaltyLock(ctx context.Context, buyer, reference solana.PublicKey,
	ttl time.Duration) error {

	ok, err := s.client.SetNX(ctx, loyaltyKey(buyer), reference.String(), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		s.log.Info("Redemption already in flight", "buyer", buyer.String())
		return ErrRedemptionInFlight
	}
	return nil
}

// ReleaseLoyaltyLock frees the lock if reference still holds it.
func (s *Store) ReleaseLoyaltyLock(ctx context.Context, buyer, reference solana.PublicKey) error {
	err := releaseLock.Run(ctx, s.client, []string{loyaltyKey(buyer)}, reference.String()).Err()
	if err != nil {
		return fmt.Errorf("release loyalty lock: %w", err)
	}
	return nil
}
