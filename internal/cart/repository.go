package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scentcart/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	ListItems(ctx context.Context, userID string) ([]Item, error)
	GetItem(ctx context.Context, userID, itemID string) (*Item, error)
	UpsertItem(ctx context.Context, params AddItemParams) (*Item, error)
	UpdateItem(ctx context.Context, params UpdateItemParams) (*Item, error)
	DeleteItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) (int64, error)
	CountQuantity(ctx context.Context, userID string) (int, error)
	MergeLines(ctx context.Context, userID string, lines []MergeLine) (int, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `id, product_id, name, price, image, quantity, selected_options, options_pricing, attachments, product, created_at, updated_at`

const upsertItemSQL = `
	INSERT INTO cart_items (
		user_id,
		product_id,
		options_key,
		name,
		price,
		image,
		quantity,
		selected_options,
		options_pricing,
		attachments,
		product
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (user_id, product_id, options_key) DO UPDATE
	SET quantity = cart_items.quantity + EXCLUDED.quantity,
	    options_pricing = cart_items.options_pricing || EXCLUDED.options_pricing,
	    attachments = cart_items.attachments || EXCLUDED.attachments,
	    product = COALESCE(EXCLUDED.product, cart_items.product),
	    updated_at = NOW()
	RETURNING ` + itemColumns

func (r *repository) ListItems(ctx context.Context, userID string) ([]Item, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ListItems"),
		zap.String("user_id", userID),
	)

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+itemColumns+`
	FROM cart_items
	WHERE user_id = $1
	ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			log.Error("row scan failed", zap.Error(err))
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		log.Error("rows iteration failed", zap.Error(err))
		return nil, err
	}

	log.Debug("query success",
		zap.Int("rows", len(items)),
		zap.Duration("duration", time.Since(start)),
	)
	return items, nil
}

func (r *repository) GetItem(ctx context.Context, userID, itemID string) (*Item, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+itemColumns+`
	FROM cart_items
	WHERE id = $1 AND user_id = $2
	`, itemID, userID)

	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	return it, err
}

// UpsertItem creates the line or increments the existing one with the same
// (user, product, options) key.
func (r *repository) UpsertItem(ctx context.Context, params AddItemParams) (*Item, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "UpsertItem"),
		zap.String("user_id", params.UserID),
		zap.String("product_id", params.ProductID),
	)

	it, err := upsertItem(ctx, r.db, params)
	if err != nil {
		log.Error("failed to upsert cart item", zap.Error(err))
		return nil, err
	}

	log.Info("success upsert cart item",
		zap.String("cart_item_id", it.ID),
		zap.Int("quantity", it.Quantity),
	)
	return it, nil
}

func upsertItem(ctx context.Context, q queryer, params AddItemParams) (*Item, error) {
	options, err := jsonArg(params.SelectedOptions)
	if err != nil {
		return nil, err
	}
	pricing, err := jsonArg(params.OptionsPricing)
	if err != nil {
		return nil, err
	}
	attachments, err := jsonArg(params.Attachments)
	if err != nil {
		return nil, err
	}
	var product any
	if params.Product != nil {
		b, err := json.Marshal(params.Product)
		if err != nil {
			return nil, err
		}
		product = string(b)
	}

	row := q.QueryRowContext(ctx, upsertItemSQL,
		params.UserID,
		params.ProductID,
		OptionsKey(params.SelectedOptions),
		params.Name,
		params.Price,
		params.Image,
		params.Quantity,
		options,
		pricing,
		attachments,
		product,
	)
	return scanItem(row)
}

// UpdateItem applies a quantity and/or option change in one transaction. A
// line whose new options collide with another line is folded into it. A
// non-positive quantity deletes the line and returns (nil, nil).
func (r *repository) UpdateItem(ctx context.Context, params UpdateItemParams) (*Item, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "UpdateItem"),
		zap.String("user_id", params.UserID),
		zap.String("cart_item_id", params.ItemID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanItem(tx.QueryRowContext(ctx, `
	SELECT `+itemColumns+`
	FROM cart_items
	WHERE id = $1 AND user_id = $2
	FOR UPDATE
	`, params.ItemID, params.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, err
	}

	quantity := current.Quantity
	if params.Quantity != nil {
		quantity = *params.Quantity
	}

	if quantity <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, current.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		log.Info("cart item removed by quantity update")
		return nil, nil
	}

	options := current.SelectedOptions
	if params.SelectedOptions != nil {
		options = params.SelectedOptions
	}
	pricing := current.OptionsPricing
	if params.OptionsPricing != nil {
		pricing = params.OptionsPricing
	}

	optionsJSON, err := jsonArg(options)
	if err != nil {
		return nil, err
	}
	pricingJSON, err := jsonArg(pricing)
	if err != nil {
		return nil, err
	}

	var updated *Item
	if !SameOptions(options, current.SelectedOptions) {
		// Another line may already hold the new key: fold into it.
		var otherID string
		err := tx.QueryRowContext(ctx, `
		SELECT id
		FROM cart_items
		WHERE user_id = $1 AND product_id = $2 AND options_key = $3 AND id <> $4
		FOR UPDATE
		`, params.UserID, current.ProductID, OptionsKey(options), current.ID).Scan(&otherID)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, current.ID); err != nil {
				return nil, err
			}
			updated, err = scanItem(tx.QueryRowContext(ctx, `
			UPDATE cart_items
			SET quantity = quantity + $1,
			    options_pricing = options_pricing || $2,
			    updated_at = NOW()
			WHERE id = $3
			RETURNING `+itemColumns,
				quantity, pricingJSON, otherID))
			if err != nil {
				return nil, err
			}
			log.Info("cart item folded into existing line", zap.String("target_id", otherID))
		case errors.Is(err, sql.ErrNoRows):
		default:
			return nil, err
		}
	}

	if updated == nil {
		updated, err = scanItem(tx.QueryRowContext(ctx, `
		UPDATE cart_items
		SET quantity = $1,
		    selected_options = $2,
		    options_key = $3,
		    options_pricing = $4,
		    updated_at = NOW()
		WHERE id = $5
		RETURNING `+itemColumns,
			quantity, optionsJSON, OptionsKey(options), pricingJSON, current.ID))
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == PgUniqueViolation {
				return nil, fmt.Errorf("%w: line key taken concurrently", ErrFailedUpdateCart)
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repository) DeleteItem(ctx context.Context, userID, itemID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE id = $1 AND user_id = $2
	`, itemID, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *repository) ClearCart(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repository) CountQuantity(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM cart_items
		WHERE user_id = $1
	`, userID).Scan(&count)
	return count, err
}

// MergeLines folds guest lines into the user's cart in one transaction. Each
// line contributes only the quantity above its receipt watermark, so replaying
// the same guest list is a no-op. Returns the number of lines that changed
// the cart.
func (r *repository) MergeLines(ctx context.Context, userID string, lines []MergeLine) (int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "MergeLines"),
		zap.String("user_id", userID),
		zap.Int("lines", len(lines)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	applied := 0
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO cart_merge_receipts (user_id, client_line_id, merged_quantity)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id, client_line_id) DO NOTHING
		`, userID, line.ClientLineID); err != nil {
			log.Error("failed to reserve merge receipt", zap.Error(err))
			return 0, err
		}

		var merged int
		if err := tx.QueryRowContext(ctx, `
		SELECT merged_quantity
		FROM cart_merge_receipts
		WHERE user_id = $1 AND client_line_id = $2
		FOR UPDATE
		`, userID, line.ClientLineID).Scan(&merged); err != nil {
			log.Error("failed to read merge receipt", zap.Error(err))
			return 0, err
		}

		delta := line.Quantity - merged
		if delta <= 0 {
			continue
		}

		params := line.addParams(userID)
		params.Quantity = delta
		if _, err := upsertItem(ctx, tx, params); err != nil {
			log.Error("failed to merge line", zap.String("client_line_id", line.ClientLineID), zap.Error(err))
			return 0, err
		}

		if _, err := tx.ExecContext(ctx, `
		UPDATE cart_merge_receipts
		SET merged_quantity = $1, merged_at = NOW()
		WHERE user_id = $2 AND client_line_id = $3
		`, line.Quantity, userID, line.ClientLineID); err != nil {
			log.Error("failed to advance merge receipt", zap.Error(err))
			return 0, err
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	log.Info("merge committed", zap.Int("applied", applied))
	return applied, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it                                   Item
		options, pricing, attachments, prodB []byte
	)
	if err := row.Scan(
		&it.ID,
		&it.ProductID,
		&it.Name,
		&it.Price,
		&it.Image,
		&it.Quantity,
		&options,
		&pricing,
		&attachments,
		&prodB,
		&it.AddedAt,
		&it.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(options, &it.SelectedOptions); err != nil {
		return nil, fmt.Errorf("decode selected_options: %w", err)
	}
	if err := unmarshalJSONB(pricing, &it.OptionsPricing); err != nil {
		return nil, fmt.Errorf("decode options_pricing: %w", err)
	}
	if err := unmarshalJSONB(attachments, &it.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if len(prodB) > 0 {
		var snap Snapshot
		if err := json.Unmarshal(prodB, &snap); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		it.Product = &snap
	}
	it.Persisted = true
	return &it, nil
}

func unmarshalJSONB(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// jsonArg encodes a map for a JSONB parameter; nil maps become "{}".
func jsonArg[M ~map[K]V, K comparable, V any](m M) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
