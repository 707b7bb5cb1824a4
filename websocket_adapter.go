package authstate

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/goliatone/go-router"
)

// ActivityMarker receives user-activity signals from transports. The session
// monitor satisfies it.
type ActivityMarker interface {
	MarkActivity()
}

// WSTokenValidator implements go-router's WSTokenValidator interface against
// the credential store: a WebSocket handshake is authenticated when it
// presents the current session token and that token is not locally expired.
type WSTokenValidator struct {
	session  *SessionTokenValidator
	activity ActivityMarker
}

// WSTokenValidatorOption customizes the WebSocket validator.
type WSTokenValidatorOption func(*WSTokenValidator)

// WithWSClock sets the clock used for local expiry checks.
func WithWSClock(clk clock.Clock) WSTokenValidatorOption {
	return func(w *WSTokenValidator) {
		if clk != nil {
			w.session.clock = clk
		}
	}
}

// WithWSActivityMarker wires a session monitor so a successful handshake
// counts as user activity.
func WithWSActivityMarker(marker ActivityMarker) WSTokenValidatorOption {
	return func(w *WSTokenValidator) {
		w.activity = marker
	}
}

// NewWSTokenValidator creates a WebSocket token validator backed by the
// credential store.
func NewWSTokenValidator(store CredentialStore, opts ...WSTokenValidatorOption) *WSTokenValidator {
	v := &WSTokenValidator{
		session: NewSessionTokenValidator(store),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// Validate checks the presented token and returns WebSocket-compatible auth
// claims. Opaque tokens that match the stored credential are accepted with
// empty claims; the backend already vouched for them.
func (w *WSTokenValidator) Validate(tokenString string) (router.WSAuthClaims, error) {
	claims, err := w.session.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	if w.activity != nil {
		w.activity.MarkActivity()
	}

	return claims, nil
}

// NewWSAuthMiddleware creates a fully configured WebSocket authentication
// middleware backed by the credential store.
func NewWSAuthMiddleware(validator *WSTokenValidator, config ...router.WSAuthConfig) router.WebSocketMiddleware {
	var cfg router.WSAuthConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	cfg.TokenValidator = validator

	return router.NewWSAuth(cfg)
}

// WSTokenClaimsFromContext retrieves the decoded token claims from a
// WebSocket context when the connection was authenticated by this package.
func WSTokenClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	wsAuthClaims, ok := router.WSAuthClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}

	if claims, ok := wsAuthClaims.(*TokenClaims); ok {
		return claims, true
	}

	return nil, false
}
