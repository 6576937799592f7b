// Package supervision formats and dispatches corrective scripts for
// failing compute jobs.
package supervision

import (
	"errors"
	"fmt"
)

// ErrUnauthorized flags a compute-node login that is not cleared for
// remote dispatch.
var ErrUnauthorized = errors.New("supervision: login not authorized for dispatch")

// Authorizer decides whether a corrective script may be dispatched on
// behalf of a compute-node login.
type Authorizer interface {
	Authorize(login, machine string) error
}

// LoginAllowlist authorizes only explicitly listed logins. An empty
// list refuses everyone, so dispatch stays off until an operator opts
// logins in.
type LoginAllowlist map[string]struct{}

// NewLoginAllowlist builds an allowlist from configured logins.
func NewLoginAllowlist(logins []string) LoginAllowlist {
	a := make(LoginAllowlist, len(logins))
	for _, l := range logins {
		a[l] = struct{}{}
	}
	return a
}

// Authorize implements Authorizer.
func (a LoginAllowlist) Authorize(login, machine string) error {
	if login == "" || machine == "" {
		return fmt.Errorf("%w: login or machine unknown", ErrUnauthorized)
	}
	if _, ok := a[login]; !ok {
		return fmt.Errorf("%w: %s@%s", ErrUnauthorized, login, machine)
	}
	return nil
}
