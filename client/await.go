package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// DefaultPollInterval is how often the await helpers poll.
const DefaultPollInterval = 500 * time.Millisecond

// AwaitInteractionProcessed polls until the interaction has a response and
// returns it. It gives up when ctx is done.
func (c *Client) AwaitInteractionProcessed(ctx context.Context, addr solana.PublicKey, interval time.Duration) (*InteractionView, error) {
	var view *InteractionView
	err := c.poll(ctx, interval, func() (bool, error) {
		v, err := c.GetInteraction(ctx, addr)
		if err != nil {
			return false, err
		}
		view = v
		return v.Interaction.IsProcessed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("interaction %s not processed: %w", addr, err)
	}
	return view, nil
}

// AwaitAccountClosed polls until the account no longer exists. A settled
// escrow closes its vault and then itself, so this is how a caller observes
// resolution.
func (c *Client) AwaitAccountClosed(ctx context.Context, addr solana.PublicKey, interval time.Duration) error {
	err := c.poll(ctx, interval, func() (bool, error) {
		_, err := c.GetAccount(ctx, addr)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("account %s not closed: %w", addr, err)
	}
	return nil
}

func (c *Client) poll(ctx context.Context, interval time.Duration, check func() (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
