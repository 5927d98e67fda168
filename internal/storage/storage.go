// Package storage holds the client-side persisted state: the local cart
// mirror and the signed-in user record.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"scentcart/internal/cart"
	"scentcart/internal/logger"

	"go.uber.org/zap"
)

const (
	KeyCart = "cart"
	KeyUser = "user"
)

var (
	ErrMalformedUser = errors.New("stored user record is malformed")
	ErrEmptyKey      = errors.New("storage key is required")
)

// Storage is a string key/value store. GetItem reports found=false for a
// missing key.
type Storage interface {
	GetItem(ctx context.Context, key string) (value string, found bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// FlexibleID accepts a JSON string or number and keeps its text form.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

// UserRecord is the signed-in user as the storefront stores it.
type UserRecord struct {
	ID    FlexibleID `json:"id"`
	Token string     `json:"token,omitempty"`
	Email string     `json:"email,omitempty"`
	Name  string     `json:"name,omitempty"`
}

// LoadUser returns nil when no user is stored. A stored record that does not
// decode or has no id is ErrMalformedUser.
func LoadUser(ctx context.Context, s Storage) (*UserRecord, error) {
	raw, found, err := s.GetItem(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(raw) == "" || strings.TrimSpace(raw) == "null" {
		return nil, nil
	}

	var u UserRecord
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUser, err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedUser)
	}
	return &u, nil
}

func SaveUser(ctx context.Context, s Storage, u UserRecord) error {
	if u.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedUser)
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.SetItem(ctx, KeyUser, string(b))
}

// LoadCart reads the local cart. A value that is not a JSON array of lines
// is logged and read as an empty cart.
func LoadCart(ctx context.Context, s Storage) ([]cart.Item, error) {
	raw, found, err := s.GetItem(ctx, KeyCart)
	if err != nil {
		return nil, err
	}
	if !found || strings.TrimSpace(raw) == "" {
		return []cart.Item{}, nil
	}

	var items []cart.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logger.FromCtx(ctx).Warn("local cart is corrupted, reading as empty",
			zap.String("layer", "storage"),
			zap.Error(err),
		)
		return []cart.Item{}, nil
	}
	if items == nil {
		items = []cart.Item{}
	}
	return items, nil
}

// SaveCart replaces the local cart in one write.
func SaveCart(ctx context.Context, s Storage, items []cart.Item) error {
	if items == nil {
		items = []cart.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.SetItem(ctx, KeyCart, string(b))
}
