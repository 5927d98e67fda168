package cartsync

import (
	"context"
	"errors"
	"fmt"

	"scentcart/internal/cartclient"
	"scentcart/internal/storage"
)

type IdentityKind int

const (
	Guest IdentityKind = iota
	Authenticated
)

func (k IdentityKind) String() string {
	if k == Authenticated {
		return "authenticated"
	}
	return "guest"
}

// Identity selects which cart a call works on.
type Identity struct {
	Kind   IdentityKind
	UserID string
	Token  string
}

func (i Identity) IsAuthenticated() bool {
	return i.Kind == Authenticated
}

func (i Identity) session() cartclient.Session {
	return cartclient.Session{UserID: i.UserID, Token: i.Token}
}

// ResolveIdentity reads the stored user record. No record means Guest; a
// record without a usable id is ErrMalformedIdentity.
func (s *Syncer) ResolveIdentity(ctx context.Context) (Identity, error) {
	u, err := storage.LoadUser(ctx, s.store)
	if errors.Is(err, storage.ErrMalformedUser) {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	if err != nil {
		return Identity{}, err
	}
	if u == nil {
		return Identity{Kind: Guest}, nil
	}
	return Identity{Kind: Authenticated, UserID: string(u.ID), Token: u.Token}, nil
}
