package datasync

import (
	"errors"

	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/store"
	"github.com/hideout-chat/hideout/types"
)

// CurrentUserSync resolves the authenticated identity to a profile row and
// mirrors it into the store.
type CurrentUserSync struct {
	gw gateway.Gateway
	st *store.Store
}

func NewCurrentUserSync(gw gateway.Gateway, st *store.Store) *CurrentUserSync {
	return &CurrentUserSync{gw: gw, st: st}
}

// Fetch loads the profile for a known user id. A missing profile row is
// ErrProfileNotFound, not a failure.
func (s *CurrentUserSync) Fetch(userId string) (*types.User, error) {
	user := types.User{Id: userId}
	err := s.gw.GetUser(&user)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	s.st.SetCurrentUser(&user)
	return &user, nil
}

// FetchByEmail resolves an OIDC-verified email address to the profile row.
func (s *CurrentUserSync) FetchByEmail(email string) (*types.User, error) {
	user, err := s.gw.GetUserByEmail(email)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	s.st.SetCurrentUser(user)
	return user, nil
}

// UsersSync loads the full user directory into the store. Used by the member
// picker; fine at community scale, there is deliberately no server-side
// search or pagination.
type UsersSync struct {
	gw gateway.Gateway
	st *store.Store
}

func NewUsersSync(gw gateway.Gateway, st *store.Store) *UsersSync {
	return &UsersSync{gw: gw, st: st}
}

func (s *UsersSync) Fetch() ([]*types.User, error) {
	users, err := s.gw.GetUsers()
	if err != nil {
		return nil, err
	}
	s.st.SetUsers(users)
	return users, nil
}
