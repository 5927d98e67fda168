package cartsync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"scentcart/internal/cart"
	"scentcart/internal/logger"
	"scentcart/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	msgAdded     = "Added to cart"
	msgAddFailed = "We couldn't add this item to your cart. Please try again."
)

// AddRequest adds Quantity units of a product with options. A zero
// Quantity means one.
type AddRequest struct {
	ProductID       string
	Name            string
	Price           decimal.Decimal
	Image           string
	Quantity        int
	SelectedOptions cart.Options
	OptionsPricing  cart.OptionsPricing
	Attachments     cart.Attachments
	Product         *cart.Snapshot
}

func (r AddRequest) params(userID string) cart.AddItemParams {
	return cart.AddItemParams{
		UserID:          userID,
		ProductID:       r.ProductID,
		Name:            r.Name,
		Price:           r.Price,
		Image:           r.Image,
		Quantity:        r.Quantity,
		SelectedOptions: r.SelectedOptions,
		OptionsPricing:  r.OptionsPricing,
		Attachments:     r.Attachments,
		Product:         r.Product,
	}
}

func (r AddRequest) normalize() (AddRequest, error) {
	if r.Quantity == 0 {
		r.Quantity = 1
	}
	if p := r.Product; p != nil {
		if r.Name == "" {
			r.Name = p.Name
		}
		if r.Price.IsZero() {
			r.Price = p.Price
		}
		if r.Image == "" {
			r.Image = p.Image
		}
	}
	if err := r.params("").Validate(); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidAdd, err)
	}
	return r, nil
}

// Path tells which store an add landed in.
type Path string

const (
	PathRemote        Path = "remote"
	PathLocal         Path = "local"
	PathLocalFallback Path = "local_fallback"
)

type AddResult struct {
	Path Path
	Item cart.Item
	// RemoteErr is why a signed-in add fell back to the local cart.
	RemoteErr error
}

// AddToCart adds to the signed-in user's remote cart, or to the local cart
// for guests. A failed remote add is retried once against the local cart.
// On error the local cart is left as it was.
func (s *Syncer) AddToCart(ctx context.Context, req AddRequest) (AddResult, error) {
	const op = "add"
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "cartsync"),
		zap.String("method", "AddToCart"),
		zap.String("product_id", req.ProductID),
	)

	req, err := req.normalize()
	if err != nil {
		s.notice(NoticeError, op, msgAddFailed, err)
		return AddResult{}, err
	}

	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		log.Error("cannot resolve identity", zap.Error(err))
		s.notice(NoticeError, op, msgAddFailed, err)
		return AddResult{}, err
	}

	result := AddResult{Path: PathLocal}
	if id.IsAuthenticated() {
		item, remoteErr := s.addRemote(ctx, id, req)
		if remoteErr == nil {
			s.emitUpdated(op)
			s.notice(NoticeInfo, op, msgAdded, nil)
			return AddResult{Path: PathRemote, Item: item}, nil
		}
		log.Warn("remote add failed, falling back to local cart", zap.Error(remoteErr))
		result = AddResult{Path: PathLocalFallback, RemoteErr: remoteErr}
	}

	item, err := s.addLocal(ctx, req)
	if err != nil {
		log.Error("local add failed", zap.Error(err))
		s.notice(NoticeError, op, msgAddFailed, err)
		return AddResult{}, err
	}
	if id.IsAuthenticated() {
		s.counts.Delete(countKey(id.UserID))
	}

	result.Item = item
	s.emitUpdated(op)
	s.notice(NoticeInfo, op, msgAdded, nil)
	return result, nil
}

// addRemote writes to the server and then re-reads the cart so the cache
// and local mirror match what the server holds.
func (s *Syncer) addRemote(ctx context.Context, id Identity, req AddRequest) (cart.Item, error) {
	item, err := s.remote.AddItem(ctx, id.session(), req.params(id.UserID))
	if err != nil {
		return cart.Item{}, err
	}
	s.invalidate(id.UserID)

	server, err := s.remote.GetCart(ctx, id.session())
	if err != nil {
		logger.FromCtx(ctx).Warn("read after add failed", zap.Error(err))
	} else if _, err := s.storeServerCart(ctx, id.UserID, server); err != nil {
		logger.FromCtx(ctx).Warn("local mirror refresh failed", zap.Error(err))
	}

	item.Persisted = true
	return *item, nil
}

// addLocal increments the matching unsynced line or appends a new one, in a
// single storage write.
func (s *Syncer) addLocal(ctx context.Context, req AddRequest) (cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := storage.LoadCart(ctx, s.store)
	if err != nil {
		return cart.Item{}, err
	}

	now := s.now()
	idx := slices.IndexFunc(items, func(it cart.Item) bool {
		return !it.Persisted && cart.SameLine(it, req.ProductID, req.SelectedOptions)
	})
	if idx >= 0 {
		items[idx].Absorb(req.Quantity, req.OptionsPricing, req.Attachments)
		if req.Product != nil {
			items[idx].Product = req.Product
		}
		items[idx].UpdatedAt = now
	} else {
		items = append(items, cart.Item{
			ID:              s.newID(),
			ProductID:       req.ProductID,
			Name:            req.Name,
			Price:           req.Price,
			Image:           req.Image,
			Quantity:        req.Quantity,
			SelectedOptions: req.SelectedOptions,
			OptionsPricing:  req.OptionsPricing,
			Attachments:     req.Attachments,
			Product:         req.Product,
			AddedAt:         now,
			UpdatedAt:       now,
		})
		idx = len(items) - 1
	}

	if err := storage.SaveCart(ctx, s.store, items); err != nil {
		return cart.Item{}, err
	}
	return items[idx], nil
}

// GetCart returns the current cart. Signed-in users get the server cart
// (fresh cache, then remote, then stale cache, then the local mirror) plus
// local lines not yet synced. Guests get the local cart.
func (s *Syncer) GetCart(ctx context.Context) ([]cart.Item, error) {
	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !id.IsAuthenticated() {
		return s.localCart(ctx)
	}

	refreshed := false
	server, err := s.carts.Fetch(ctx, cartKey(id.UserID), func(ctx context.Context) ([]cart.Item, error) {
		items, err := s.remote.GetCart(ctx, id.session())
		if err == nil {
			refreshed = true
		}
		return items, err
	})
	if err != nil {
		logger.FromCtx(ctx).Warn("remote cart unavailable, serving local mirror",
			zap.String("layer", "cartsync"),
			zap.Error(err),
		)
		return s.localCart(ctx)
	}

	if refreshed {
		view, err := s.storeServerCart(ctx, id.UserID, server)
		if err != nil {
			return nil, err
		}
		return view, nil
	}

	local, err := s.localCart(ctx)
	if err != nil {
		return nil, err
	}
	return append(slices.Clone(server), pending(local)...), nil
}

func (s *Syncer) localCart(ctx context.Context) ([]cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storage.LoadCart(ctx, s.store)
}

// UpdateRequest changes quantity and/or options of a line. Nil fields are
// left as they are; a quantity of zero or less removes the line.
type UpdateRequest struct {
	Quantity        *int
	SelectedOptions cart.Options
	OptionsPricing  cart.OptionsPricing
}

// UpdateItem applies the change locally and, for synced lines of a signed-in
// user, queues the remote write. The returned task is already done when
// nothing had to go remote.
func (s *Syncer) UpdateItem(ctx context.Context, itemID string, req UpdateRequest) (*Task, error) {
	const op = "update"
	if req.Quantity == nil && req.SelectedOptions == nil && req.OptionsPricing == nil {
		return nil, ErrNothingToSave
	}

	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	persisted, err := s.updateLocal(ctx, itemID, req)
	if err != nil {
		return nil, err
	}
	s.emitUpdated(op)

	if !id.IsAuthenticated() || !persisted {
		return completedTask(op), nil
	}

	s.invalidate(id.UserID)
	params := cart.UpdateItemParams{
		UserID:          id.UserID,
		ItemID:          itemID,
		Quantity:        req.Quantity,
		SelectedOptions: req.SelectedOptions,
		OptionsPricing:  req.OptionsPricing,
	}
	return s.tasks.Submit(ctx, op, func(ctx context.Context) error {
		defer s.invalidate(id.UserID)
		_, err := s.remote.UpdateItem(ctx, id.session(), itemID, params)
		return err
	}), nil
}

func (s *Syncer) updateLocal(ctx context.Context, itemID string, req UpdateRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := storage.LoadCart(ctx, s.store)
	if err != nil {
		return false, err
	}
	idx := slices.IndexFunc(items, func(it cart.Item) bool { return it.ID == itemID })
	if idx < 0 {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, strings.TrimSpace(itemID))
	}

	line := items[idx]
	persisted := line.Persisted

	if req.Quantity != nil && *req.Quantity <= 0 {
		items = slices.Delete(items, idx, idx+1)
		return persisted, storage.SaveCart(ctx, s.store, items)
	}

	if req.Quantity != nil {
		line.Quantity = *req.Quantity
	}
	if req.OptionsPricing != nil {
		line.OptionsPricing = req.OptionsPricing
	}
	line.UpdatedAt = s.now()

	if req.SelectedOptions != nil && !cart.SameOptions(req.SelectedOptions, line.SelectedOptions) {
		line.SelectedOptions = req.SelectedOptions
		other := slices.IndexFunc(items, func(it cart.Item) bool {
			return it.ID != itemID && it.Persisted == persisted && cart.SameLine(it, line.ProductID, line.SelectedOptions)
		})
		if other >= 0 {
			// The new options name an existing line: fold into it.
			items[other].Absorb(line.EffectiveQuantity(), line.OptionsPricing, line.Attachments)
			items[other].UpdatedAt = line.UpdatedAt
			items = slices.Delete(items, idx, idx+1)
			return persisted, storage.SaveCart(ctx, s.store, items)
		}
	}

	items[idx] = line
	return persisted, storage.SaveCart(ctx, s.store, items)
}

// RemoveItem drops a line locally and queues the remote delete for synced
// lines.
func (s *Syncer) RemoveItem(ctx context.Context, itemID string) (*Task, error) {
	zero := 0
	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	persisted, err := s.updateLocal(ctx, itemID, UpdateRequest{Quantity: &zero})
	if err != nil {
		return nil, err
	}
	s.emitUpdated("remove")

	if !id.IsAuthenticated() || !persisted {
		return completedTask("remove"), nil
	}

	s.invalidate(id.UserID)
	return s.tasks.Submit(ctx, "remove", func(ctx context.Context) error {
		defer s.invalidate(id.UserID)
		return s.remote.RemoveItem(ctx, id.session(), itemID)
	}), nil
}

// ClearCart empties the local cart and queues the remote clear for a
// signed-in user.
func (s *Syncer) ClearCart(ctx context.Context) (*Task, error) {
	id, err := s.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	err = storage.SaveCart(ctx, s.store, nil)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.emitUpdated("clear")

	if !id.IsAuthenticated() {
		return completedTask("clear"), nil
	}

	s.invalidate(id.UserID)
	return s.tasks.Submit(ctx, "clear", func(ctx context.Context) error {
		defer s.invalidate(id.UserID)
		return s.remote.ClearCart(ctx, id.session())
	}), nil
}
