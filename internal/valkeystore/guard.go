package valkeystore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/goliatone/go-analytics-cache/scheduler"
)

var _ scheduler.FireGuard = (*FireGuard)(nil)

// DefaultClaimTTL keeps a fire claim long enough for every scheduler sharing
// the schedule to have ticked past it.
const DefaultClaimTTL = 10 * time.Minute

// FireGuard claims (task, fire time) pairs with SET NX EX.
type FireGuard struct {
	client *Client
	ttl    time.Duration
}

// NewFireGuard returns a FireGuard. A ttl of zero uses DefaultClaimTTL.
func NewFireGuard(client *Client, ttl time.Duration) *FireGuard {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &FireGuard{client: client, ttl: ttl}
}

func (g *FireGuard) key(task string, at time.Time) string {
	return g.client.Key("lock", "fire", task, strconv.FormatInt(at.Unix(), 10))
}

// Claim reports whether this process won the fire.
func (g *FireGuard) Claim(ctx context.Context, task string, at time.Time) (bool, error) {
	inner := g.client.Inner()
	cmd := inner.B().Set().Key(g.key(task, at)).Value("1").Nx().Ex(g.ttl).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		if valkeylib.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("valkeystore: claim %s: %w", task, err)
	}
	return true, nil
}
