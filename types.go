package authstate

import (
	"github.com/goliatone/go-router"
)

// Config holds the session wiring options shared by the oracle, the
// middleware, and the controllers. Apps usually back it with their
// configuration container.
type Config interface {
	GetAPIBaseURL() string
	GetRuntimeMode() string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetCookieDuration() int
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
	GetGoogleClientID() string
}

// HTTPSession is the route-level surface controllers build on: cookie
// handling plus redirect bookkeeping for rejected routes.
type HTTPSession interface {
	StoreToken(c router.Context, token string)
	ClearToken(c router.Context)
	SetRedirect(c router.Context)
	GetRedirect(c router.Context, def ...string) string
	GetRedirectOrDefault(c router.Context) string
	MakeClientRouteErrorHandler(optional bool) func(c router.Context, err error) error
}
