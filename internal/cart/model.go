package cart

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Options maps an option name (size, concentration...) to the chosen value.
type Options map[string]string

// OptionsPricing maps an option name to its price delta.
type OptionsPricing map[string]decimal.Decimal

// Attachments is free-form data captured at add time (reference images, a
// note). It is stored and merged but never interpreted.
type Attachments map[string]any

// Snapshot is the denormalized product data a line keeps from add time.
type Snapshot struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Slug     string          `json:"slug,omitempty"`
	Brand    string          `json:"brand,omitempty"`
	Category string          `json:"category,omitempty"`
	Stock    *int            `json:"stock,omitempty"`
}

// Validate rejects snapshots that cannot be displayed or priced.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidSnapshot)
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidSnapshot)
	}
	if s.Stock != nil && *s.Stock < 0 {
		return fmt.Errorf("%w: negative stock", ErrInvalidSnapshot)
	}
	return nil
}

// Item is one cart line. Lines are unique per (ProductID, SelectedOptions).
type Item struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image,omitempty"`
	Quantity        int             `json:"quantity"`
	SelectedOptions Options         `json:"selectedOptions"`
	OptionsPricing  OptionsPricing  `json:"optionsPricing"`
	Attachments     Attachments     `json:"attachments,omitempty"`
	Product         *Snapshot       `json:"product,omitempty"`

	// Persisted is set on lines that carry a server-assigned id.
	Persisted bool `json:"persisted,omitempty"`

	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveQuantity treats a missing quantity as one unit.
func (i Item) EffectiveQuantity() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// UnitPrice is the base price plus every option delta.
func (i Item) UnitPrice() decimal.Decimal {
	total := i.Price
	for _, delta := range i.OptionsPricing {
		total = total.Add(delta)
	}
	return total
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.EffectiveQuantity())))
}

// Absorb folds another line for the same key into i: quantities add up and
// the newer pricing/attachments win key by key.
func (i *Item) Absorb(quantity int, pricing OptionsPricing, attachments Attachments) {
	i.Quantity = i.EffectiveQuantity() + quantity
	i.OptionsPricing = MergePricing(i.OptionsPricing, pricing)
	i.Attachments = MergeAttachments(i.Attachments, attachments)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `=`, `\=`)

// OptionsKey renders options as "k=v;k=v" with keys sorted and the
// separators escaped inside keys and values, so distinct options never share
// a key. Empty options render as "".
func OptionsKey(o Options) string {
	if len(o) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(o))
	var b strings.Builder
	for n, k := range keys {
		if n > 0 {
			b.WriteByte(';')
		}
		keyEscaper.WriteString(&b, k)
		b.WriteByte('=')
		keyEscaper.WriteString(&b, o[k])
	}
	return b.String()
}

// SameOptions compares option maps structurally; nil equals empty.
func SameOptions(a, b Options) bool {
	return maps.Equal(a, b)
}

// SameLine reports whether a line matches productID with options.
func SameLine(i Item, productID string, options Options) bool {
	return i.ProductID == productID && SameOptions(i.SelectedOptions, options)
}

func MergePricing(dst, src OptionsPricing) OptionsPricing {
	if len(src) == 0 {
		return dst
	}
	out := make(OptionsPricing, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}

func MergeAttachments(dst, src Attachments) Attachments {
	if len(src) == 0 {
		return dst
	}
	out := make(Attachments, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}

// Summary aggregates a cart for display.
type Summary struct {
	Lines    int             `json:"lines"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

func Summarize(items []Item) Summary {
	s := Summary{Lines: len(items), Subtotal: decimal.Zero}
	for _, it := range items {
		s.Quantity += it.EffectiveQuantity()
		s.Subtotal = s.Subtotal.Add(it.LineTotal())
	}
	return s
}

// CountQuantity sums effective quantities.
func CountQuantity(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.EffectiveQuantity()
	}
	return total
}

// AddItemParams is the create-or-increment request for one line.
type AddItemParams struct {
	UserID          string          `json:"-"`
	ProductID       string          `json:"productId"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image,omitempty"`
	Quantity        int             `json:"quantity"`
	SelectedOptions Options         `json:"selectedOptions,omitempty"`
	OptionsPricing  OptionsPricing  `json:"optionsPricing,omitempty"`
	Attachments     Attachments     `json:"attachments,omitempty"`
	Product         *Snapshot       `json:"product,omitempty"`
}

// PriceScale is the number of decimal places a line price is stored with.
const PriceScale = 2

func (p AddItemParams) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return ErrProductIDRequired
	}
	if p.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if !p.Price.Equal(p.Price.Round(PriceScale)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidPrice, PriceScale)
	}
	if p.Product != nil {
		if err := p.Product.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateItemParams changes quantity and/or options of an existing line. A nil
// field is left untouched; a quantity of zero or less removes the line.
type UpdateItemParams struct {
	UserID          string         `json:"-"`
	ItemID          string         `json:"-"`
	Quantity        *int           `json:"quantity,omitempty"`
	SelectedOptions Options        `json:"selectedOptions,omitempty"`
	OptionsPricing  OptionsPricing `json:"optionsPricing,omitempty"`
}

func (p UpdateItemParams) Validate() error {
	if strings.TrimSpace(p.ItemID) == "" {
		return ErrItemIDRequired
	}
	if p.Quantity == nil && p.SelectedOptions == nil && p.OptionsPricing == nil {
		return ErrNothingToUpdate
	}
	return nil
}

// MergeLine is a guest line sent to the merge endpoint. ClientLineID is the
// client-generated id; the server keeps a per-line watermark under it.
type MergeLine struct {
	ClientLineID    string          `json:"id"`
	ProductID       string          `json:"productId"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image,omitempty"`
	Quantity        int             `json:"quantity"`
	SelectedOptions Options         `json:"selectedOptions,omitempty"`
	OptionsPricing  OptionsPricing  `json:"optionsPricing,omitempty"`
	Attachments     Attachments     `json:"attachments,omitempty"`
	Product         *Snapshot       `json:"product,omitempty"`
}

// MergeLineFromItem converts a local line into its merge payload.
func MergeLineFromItem(it Item) MergeLine {
	return MergeLine{
		ClientLineID:    it.ID,
		ProductID:       it.ProductID,
		Name:            it.Name,
		Price:           it.Price,
		Image:           it.Image,
		Quantity:        it.EffectiveQuantity(),
		SelectedOptions: it.SelectedOptions,
		OptionsPricing:  it.OptionsPricing,
		Attachments:     it.Attachments,
		Product:         it.Product,
	}
}

func (l MergeLine) Validate() error {
	if strings.TrimSpace(l.ClientLineID) == "" {
		return ErrInvalidMergeLine
	}
	return l.addParams("").Validate()
}

func (l MergeLine) addParams(userID string) AddItemParams {
	return AddItemParams{
		UserID:          userID,
		ProductID:       l.ProductID,
		Name:            l.Name,
		Price:           l.Price,
		Image:           l.Image,
		Quantity:        l.Quantity,
		SelectedOptions: l.SelectedOptions,
		OptionsPricing:  l.OptionsPricing,
		Attachments:     l.Attachments,
		Product:         l.Product,
	}
}

// MergeResult is what the merge endpoint answers.
type MergeResult struct {
	MergedCount int    `json:"mergedCount"`
	Items       []Item `json:"items"`
}
