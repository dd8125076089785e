// Package auth implements component C6: SASL mechanism negotiation for
// AUTHENTICATE, a bcrypt-backed credential verifier for LOGIN and
// AUTHENTICATE PLAIN, and PROXY protocol header parsing for deployments
// that sit behind a TCP load balancer.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
	"golang.org/x/crypto/bcrypt"

	"imapd/util/throttle"
)

// ErrBadCredentials is returned by Verifier.Verify on any authentication
// failure; the session layer never distinguishes "no such user" from
// "wrong password" in its response, to avoid leaking which usernames
// exist.
var ErrBadCredentials = errors.New("auth: bad credentials")

// Verifier checks a username/password pair against a credential store.
type Verifier interface {
	Verify(ctx context.Context, username, password string) error
}

// BcryptVerifier checks passwords against bcrypt hashes returned by
// Lookup. It throttles repeated failures per username and per remote
// address the same way the teacher's device-auth path does.
type BcryptVerifier struct {
	// Lookup returns the bcrypt hash for username, or an error if the
	// username is unknown. Implementations should return a fixed-cost
	// placeholder hash lookup failure path is not required: Verify
	// already treats "not found" and "hash mismatch" identically.
	Lookup func(ctx context.Context, username string) (hash []byte, err error)

	Throttle throttle.Throttle
}

func (v *BcryptVerifier) Verify(ctx context.Context, username, password string) error {
	v.Throttle.Throttle(username)

	hash, err := v.Lookup(ctx, username)
	if err != nil {
		v.Throttle.Add(username)
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		v.Throttle.Add(username)
		return ErrBadCredentials
	}
	return nil
}

// SupportedMechanisms lists the SASL mechanism names advertised in the
// CAPABILITY response as "AUTH=<name>".
func SupportedMechanisms(allowExternal bool) []string {
	mechs := []string{sasl.Plain}
	if allowExternal {
		mechs = append(mechs, sasl.External)
	}
	return mechs
}

// NewServer builds a SASL server mechanism for name, using v to verify
// PLAIN credentials and extractPeerCertCN (e.g. from the TLS
// connection state) to resolve an EXTERNAL identity. An unsupported
// mechanism name returns an error the caller turns into
// "NO unsupported SASL mechanism".
func NewServer(ctx context.Context, name string, v Verifier, externalIdentity func() (string, bool)) (sasl.Server, error) {
	switch name {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return ErrBadCredentials
			}
			return v.Verify(ctx, username, password)
		}), nil
	case sasl.External:
		return sasl.NewExternalServer(func(identity string) error {
			cn, ok := externalIdentity()
			if !ok {
				return ErrBadCredentials
			}
			if identity != "" && identity != cn {
				return ErrBadCredentials
			}
			return nil
		}), nil
	default:
		return nil, fmt.Errorf("auth: unsupported SASL mechanism %q", name)
	}
}
