package cartsync

import (
	"context"
	"slices"

	"scentcart/internal/cart"
	"scentcart/internal/logger"
	"scentcart/internal/storage"

	"go.uber.org/zap"
)

// MergeReport describes a merge attempt. Merge failures are reported here
// and logged, never returned: the local lines stay for the next attempt.
type MergeReport struct {
	Sent    int
	Merged  int
	Skipped bool
	Err     error
}

// MergeOnLogin folds the local guest cart into userID's server cart and
// replaces the local cart with the server's canonical one. Lines are sent
// with their client ids, so a retried merge is not counted twice.
func (s *Syncer) MergeOnLogin(ctx context.Context, userID string) MergeReport {
	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return MergeReport{Err: err}
	}
	if !id.IsAuthenticated() {
		return MergeReport{Err: ErrNotAuthenticated}
	}
	if id.UserID != userID {
		return MergeReport{Err: ErrIdentityMismatch}
	}
	return s.mergePending(ctx, id, "merge")
}

// SyncPending replays local lines that never reached the server, such as
// adds that fell back to the local cart.
func (s *Syncer) SyncPending(ctx context.Context) MergeReport {
	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return MergeReport{Err: err}
	}
	if !id.IsAuthenticated() {
		return MergeReport{Skipped: true}
	}
	return s.mergePending(ctx, id, "sync")
}

func (s *Syncer) mergePending(ctx context.Context, id Identity, op string) MergeReport {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "cartsync"),
		zap.String("method", "mergePending"),
		zap.String("op", op),
		zap.String("user_id", id.UserID),
	)

	local, err := s.localCart(ctx)
	if err != nil {
		log.Error("read local cart failed", zap.Error(err))
		return MergeReport{Err: err}
	}
	lines := pending(local)
	if len(lines) == 0 {
		return MergeReport{Skipped: true}
	}

	report := MergeReport{Sent: len(lines)}
	sent := make(map[string]int, len(lines))
	var server []cart.Item

	for batch := range slices.Chunk(lines, cart.MaxMergeLines) {
		payload := make([]cart.MergeLine, 0, len(batch))
		for _, it := range batch {
			payload = append(payload, cart.MergeLineFromItem(it))
		}

		res, err := s.remote.Merge(ctx, id.session(), payload)
		if err != nil {
			log.Warn("cart merge failed, keeping local lines", zap.Error(err))
			report.Err = err
			break
		}
		for _, l := range payload {
			sent[l.ClientLineID] = l.Quantity
		}
		report.Merged += res.MergedCount
		server = res.Items
	}

	if len(sent) == 0 {
		return report
	}

	if err := s.applyMerge(ctx, id.UserID, sent, server); err != nil {
		log.Error("storing merged cart failed", zap.Error(err))
		report.Err = err
		return report
	}

	log.Info("cart merged", zap.Int("sent", report.Sent), zap.Int("merged", report.Merged))
	s.emitUpdated(op)
	return report
}

// applyMerge drops the local lines the server acknowledged and stores the
// canonical server cart. A line whose quantity grew while the merge was in
// flight stays pending; the server only adds the growth next time.
func (s *Syncer) applyMerge(ctx context.Context, userID string, sent map[string]int, server []cart.Item) error {
	s.mu.Lock()
	local, err := storage.LoadCart(ctx, s.store)
	if err == nil {
		local = slices.DeleteFunc(local, func(it cart.Item) bool {
			qty, ok := sent[it.ID]
			return !it.Persisted && ok && it.EffectiveQuantity() <= qty
		})
		err = storage.SaveCart(ctx, s.store, local)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.counts.Delete(countKey(userID))
	_, err = s.storeServerCart(ctx, userID, server)
	return err
}

// Login stores the user record and merges the guest cart into theirs.
func (s *Syncer) Login(ctx context.Context, user storage.UserRecord) (MergeReport, error) {
	if err := storage.SaveUser(ctx, s.store, user); err != nil {
		return MergeReport{}, err
	}
	s.carts.Clear()
	s.counts.Clear()

	return s.MergeOnLogin(ctx, string(user.ID)), nil
}

// Logout tries to push pending lines, then forgets the user and the local
// cart.
func (s *Syncer) Logout(ctx context.Context) error {
	if report := s.SyncPending(ctx); report.Err != nil {
		logger.FromCtx(ctx).Warn("pending lines dropped at logout",
			zap.Int("lines", report.Sent),
			zap.Error(report.Err),
		)
	}

	s.mu.Lock()
	err := s.store.RemoveItem(ctx, storage.KeyUser)
	if err == nil {
		err = storage.SaveCart(ctx, s.store, nil)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.carts.Clear()
	s.counts.Clear()
	s.emitUpdated("logout")
	return nil
}
