package cartsync

import (
	"context"

	"scentcart/internal/cart"
	"scentcart/internal/logger"

	"go.uber.org/zap"
)

// Count is the badge number: total units in the cart. It never fails; any
// unreadable state counts from the local cart, or as zero.
func (s *Syncer) Count(ctx context.Context) int {
	log := logger.FromCtx(ctx).With(zap.String("layer", "cartsync"), zap.String("method", "Count"))

	local, err := s.localCart(ctx)
	if err != nil {
		log.Warn("local cart unreadable", zap.Error(err))
		local = nil
	}

	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		log.Warn("identity unreadable, counting local cart", zap.Error(err))
		return cart.CountQuantity(local)
	}
	if !id.IsAuthenticated() {
		return cart.CountQuantity(local)
	}

	n, err := s.counts.Fetch(ctx, countKey(id.UserID), func(ctx context.Context) (int, error) {
		return s.remote.Count(ctx, id.session())
	})
	if err != nil || n < 0 {
		log.Warn("remote count unavailable, counting local cart", zap.Error(err))
		return cart.CountQuantity(local)
	}
	return n + cart.CountQuantity(pending(local))
}

// Summary totals the current cart for display.
func (s *Syncer) Summary(ctx context.Context) (cart.Summary, error) {
	items, err := s.GetCart(ctx)
	if err != nil {
		return cart.Summary{}, err
	}
	return cart.Summarize(items), nil
}
