package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scentcart/internal/logger"

	"go.uber.org/zap"
)

// MaxMergeLines bounds a single merge request.
const MaxMergeLines = 100

// Service defines the business logic for carts.
type Service interface {
	GetCart(ctx context.Context, userID string) ([]Item, error)
	AddToCart(ctx context.Context, params AddItemParams) (*Item, error)
	UpdateItem(ctx context.Context, params UpdateItemParams) (*Item, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
	Count(ctx context.Context, userID string) (int, error)
	Merge(ctx context.Context, userID string, lines []MergeLine) (*MergeResult, error)
}

// Event is published after every successful cart mutation.
type Event struct {
	UserID     string    `json:"userId"`
	Reason     string    `json:"reason"`
	Count      int       `json:"count"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	ReasonAdd    = "add"
	ReasonUpdate = "update"
	ReasonRemove = "remove"
	ReasonClear  = "clear"
	ReasonMerge  = "merge"
)

// Publisher fans cart events out to other services.
type Publisher interface {
	PublishCartUpdated(ctx context.Context, ev Event) error
}

type service struct {
	repo      Repository
	publisher Publisher
	now       func() time.Time
}

// NewService creates a new cart service. publisher may be nil.
func NewService(repo Repository, publisher Publisher) Service {
	return &service{repo: repo, publisher: publisher, now: time.Now}
}

func (s *service) GetCart(ctx context.Context, userID string) ([]Item, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}
	items, err := s.repo.ListItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCart, err)
	}
	return items, nil
}

// AddToCart creates the line or increments the one with the same product and
// options.
func (s *service) AddToCart(ctx context.Context, params AddItemParams) (*Item, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, ErrUserIDRequired
	}
	if params.Product != nil {
		if params.Name == "" {
			params.Name = params.Product.Name
		}
		if params.Price.IsZero() {
			params.Price = params.Product.Price
		}
		if params.Image == "" {
			params.Image = params.Product.Image
		}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	item, err := s.repo.UpsertItem(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedAddCartItem, err)
	}

	s.publish(ctx, params.UserID, ReasonAdd)
	return item, nil
}

// UpdateItem changes quantity and/or options. It returns (nil, nil) when the
// line was removed because the quantity dropped to zero.
func (s *service) UpdateItem(ctx context.Context, params UpdateItemParams) (*Item, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, ErrUserIDRequired
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	item, err := s.repo.UpdateItem(ctx, params)
	if err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFailedUpdateCart, err)
	}

	reason := ReasonUpdate
	if item == nil {
		reason = ReasonRemove
	}
	s.publish(ctx, params.UserID, reason)
	return item, nil
}

func (s *service) RemoveItem(ctx context.Context, userID, itemID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	if strings.TrimSpace(itemID) == "" {
		return ErrItemIDRequired
	}

	if err := s.repo.DeleteItem(ctx, userID, itemID); err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFailedRemoveCart, err)
	}

	s.publish(ctx, userID, ReasonRemove)
	return nil
}

// ClearCart removes every line. Clearing an empty cart succeeds.
func (s *service) ClearCart(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}

	removed, err := s.repo.ClearCart(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedClearCart, err)
	}

	if removed > 0 {
		s.publish(ctx, userID, ReasonClear)
	}
	return nil
}

func (s *service) Count(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserIDRequired
	}
	count, err := s.repo.CountQuantity(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailedGetCart, err)
	}
	return count, nil
}

// Merge folds a guest cart into the user's cart and returns the canonical
// cart afterwards. Replays of already merged lines change nothing.
func (s *service) Merge(ctx context.Context, userID string, lines []MergeLine) (*MergeResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Merge"),
		zap.String("user_id", userID),
	)

	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}
	if len(lines) > MaxMergeLines {
		return nil, ErrMergeTooLarge
	}
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}

	applied := 0
	if len(lines) > 0 {
		var err error
		applied, err = s.repo.MergeLines(ctx, userID, lines)
		if err != nil {
			log.Error("merge failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrFailedMergeCart, err)
		}
	}

	items, err := s.repo.ListItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedGetCart, err)
	}

	if applied > 0 {
		s.publish(ctx, userID, ReasonMerge)
	}

	log.Info("merge done", zap.Int("sent", len(lines)), zap.Int("applied", applied))
	return &MergeResult{MergedCount: applied, Items: items}, nil
}

// publish is best effort: a broker outage never fails a cart write.
func (s *service) publish(ctx context.Context, userID, reason string) {
	if s.publisher == nil {
		return
	}

	log := logger.FromCtx(ctx).With(zap.String("user_id", userID), zap.String("reason", reason))

	count, err := s.repo.CountQuantity(ctx, userID)
	if err != nil {
		log.Warn("count for cart event failed", zap.Error(err))
		return
	}

	ev := Event{UserID: userID, Reason: reason, Count: count, OccurredAt: s.now().UTC()}
	if err := s.publisher.PublishCartUpdated(ctx, ev); err != nil {
		log.Warn("publish cart event failed", zap.Error(err))
	}
}
