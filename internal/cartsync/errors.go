package cartsync

import "errors"

var (
	// -- Identity --
	ErrMalformedIdentity = errors.New("stored user record is malformed")
	ErrNotAuthenticated  = errors.New("no signed-in user")
	ErrIdentityMismatch  = errors.New("signed-in user does not match")

	// -- Local cart --
	ErrItemNotFound  = errors.New("cart line not found")
	ErrInvalidAdd    = errors.New("invalid add to cart request")
	ErrNothingToSave = errors.New("nothing to update")

	// -- Background work --
	ErrQueueClosed = errors.New("task queue is closed")

	ErrStorageRequired = errors.New("storage is required")
	ErrRemoteRequired  = errors.New("remote cart api is required")
)
