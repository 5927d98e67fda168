package cart

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// -- Authentication/Authorization --
	ErrUserNotAuthenticated = errors.New("user not authenticated")
	ErrForbidden            = errors.New("cart belongs to another user")

	// -- Validation & Input --
	ErrInvalidQuantity   = errors.New("invalid cart quantity")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrProductIDRequired = errors.New("product id is required")
	ErrItemIDRequired    = errors.New("item id is required")
	ErrUserIDRequired    = errors.New("user id is required")
	ErrNothingToUpdate   = errors.New("nothing to update")
	ErrInvalidSnapshot   = errors.New("invalid product snapshot")
	ErrMergeTooLarge     = errors.New("too many lines in merge request")
	ErrInvalidMergeLine  = errors.New("merge line id required")

	// -- Resource State --
	ErrCartItemNotFound = errors.New("cart item not found")

	// -- Database & Operation Failures --
	ErrFailedGetCart     = errors.New("failed to get cart")
	ErrFailedAddCartItem = errors.New("failed to add cart item")
	ErrFailedUpdateCart  = errors.New("failed to update cart item")
	ErrFailedRemoveCart  = errors.New("failed to remove cart item")
	ErrFailedClearCart   = errors.New("failed to clear cart")
	ErrFailedMergeCart   = errors.New("failed to merge cart")
)

// -- Constants (External Systems) --
const PgUniqueViolation pq.ErrorCode = "23505"
