package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const anonymousPrefix = "anon:"

// Identity is whoever casts a vote: either a registered user or an anonymous
// browser session, never both.
type Identity interface {
	// Key is the opaque string carried as userId on the wire.
	Key() string
	isIdentity()
}

type Registered struct {
	UserID string
}

func (r Registered) Key() string { return r.UserID }
func (Registered) isIdentity()   {}

type Anonymous struct {
	SessionID string
}

func (a Anonymous) Key() string { return anonymousPrefix + a.SessionID }
func (Anonymous) isIdentity()   {}

// NewAnonymous mints a fresh session identity.
func NewAnonymous() Anonymous {
	return Anonymous{SessionID: uuid.NewString()}
}

// ParseIdentity turns a wire userId back into an Identity.
func ParseIdentity(key string) (Identity, error) {
	if key == "" {
		return nil, errors.New("empty identity key")
	}
	if sid, ok := strings.CutPrefix(key, anonymousPrefix); ok {
		if sid == "" {
			return nil, errors.Errorf("anonymous identity %q has no session id", key)
		}
		return Anonymous{SessionID: sid}, nil
	}
	return Registered{UserID: key}, nil
}
