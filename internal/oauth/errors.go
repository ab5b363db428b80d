package oauth

import "errors"

// Every failure here is terminal for the connect attempt: the user has to
// click connect again. Nothing retries automatically.
var (
	// ErrStateMismatch covers forged, stale and timed-out states alike; the
	// attempt is aborted before any token exchange.
	ErrStateMismatch = errors.New("state_mismatch")

	// ErrMissingCode means the provider redirected back without a code.
	ErrMissingCode = errors.New("missing_code")

	// ErrProviderDenied means the user rejected the consent screen.
	ErrProviderDenied = errors.New("provider_denied")

	// ErrTokenExchange wraps a failed token endpoint call.
	ErrTokenExchange = errors.New("token_exchange_failed")

	// ErrUnknownProvider means the provider name is not configured.
	ErrUnknownProvider = errors.New("unknown_provider")
)
