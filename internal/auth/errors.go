package auth

import "errors"

// Sign-in failures. Each is terminal for the flow that produced it.
var (
	ErrTokenMissing     = errors.New("no identity token in redirect URL")
	ErrTokenMalformed   = errors.New("identity token could not be decoded")
	ErrSessionExpired   = errors.New("sign-in session expired, please start again")
	ErrNonceMismatch    = errors.New("identity token does not belong to this sign-in attempt")
	ErrDerivationFailed = errors.New("account derivation failed")
	ErrDomainNotAllowed = errors.New("email domain is not allowed")
)

// Code maps an error to its wire code. Unknown errors map to "internal_error".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return "token_missing"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, ErrDerivationFailed):
		return "derivation_failed"
	case errors.Is(err, ErrDomainNotAllowed):
		return "domain_not_allowed"
	default:
		return "internal_error"
	}
}
