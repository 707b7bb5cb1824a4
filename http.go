package authstate

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-authstate/middleware/guardware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteSession implements HTTPSession: it keeps the auth cookie and the
// rejected-route bookkeeping in sync with the credential store. The store
// marker is authoritative for post-login redirects; the cookie is a
// presentation-layer mirror.
type RouteSession struct {
	store            CredentialStore
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

// NewHTTPSession builds the route-level session helper.
func NewHTTPSession(store CredentialStore, cfg Config) (*RouteSession, error) {
	if store == nil {
		return nil, errors.New("credential store is required", errors.CategoryBadInput)
	}
	if cfg == nil {
		return nil, errors.New("config is required", errors.CategoryBadInput)
	}

	cookieDuration := 24 * time.Hour
	if cfg.GetCookieDuration() > 0 {
		cookieDuration = time.Duration(cfg.GetCookieDuration()) * time.Hour
	}

	a := &RouteSession{
		store:          store,
		cfg:            cfg,
		cookieDuration: cookieDuration,
		Logger:         defaultLogger(),
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

var _ HTTPSession = (*RouteSession)(nil)

// GetCookieDuration returns the auth cookie lifetime.
func (a *RouteSession) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// GuardedRoute builds the middleware for a configured guard: the guard is
// consulted on every request, the presented token is matched against the
// live session, and the request context is populated for handlers and
// templates. Pass an ActivityMarker to count allowed requests as user
// activity for idle tracking.
func (a *RouteSession) GuardedRoute(guard *Guard, source SessionUserSource, errorHandler func(router.Context, error) error, markers ...ActivityMarker) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = a.MakeClientRouteErrorHandler(false)
	}

	gcfg := guard.Config()
	provider := NewUserProvider(source)

	cfg := guardware.Config{
		ErrorHandler:     errorHandler,
		Guard:            GuardAdapter(guard),
		TokenValidator:   GuardValidatorAdapter(NewSessionTokenValidator(a.store)),
		ContextKey:       a.cfg.GetContextKey(),
		TokenLookup:      a.cfg.GetTokenLookup(),
		AuthScheme:       a.cfg.GetAuthScheme(),
		LoginPath:        gcfg.LoginPath,
		HomePath:         gcfg.HomePath,
		RedirectRecorder: a.SetRedirect,
		TemplateUserKey:  TemplateUserKey,
		UserProvider:     GuardUserProvider(provider),
		ContextEnricher:  ContextEnricherAdapter,
	}
	if len(markers) > 0 {
		cfg.ActivityMarker = markers[0]
	}
	RegisterValidationListeners(&cfg, SessionClaimsListener(source, a.cfg.GetContextKey()))

	return guardware.New(cfg)
}

// StoreToken mirrors the bearer token into the auth cookie so subsequent
// requests can carry it. The credential store stays the source of truth.
func (a *RouteSession) StoreToken(c router.Context, token string) {
	a.setCookieToken(c, token, a.cookieDuration)
}

// ClearToken removes the auth cookie.
func (a *RouteSession) ClearToken(c router.Context) {
	a.cookieDel(c, a.cfg.GetContextKey())
}

// MakeClientRouteErrorHandler maps token failures on client routes into the
// login redirect flow. With optional set the request proceeds without a user.
func (a *RouteSession) MakeClientRouteErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		switch {
		case IsTokenExpiredError(err):
			richErr = ErrTokenExpired
		case IsMalformedError(err):
			richErr = ErrTokenMalformed
		case IsUnauthenticated(err):
			richErr = ErrUnauthenticated
		default:
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

// GetRedirect returns the stored post-login destination, preferring the
// credential store marker over the cookie mirror. Both are consumed.
func (a *RouteSession) GetRedirect(ctx router.Context, def ...string) string {
	if path, ok := a.consumeStoredRedirect(ctx.Context()); ok {
		a.cookieDel(ctx, a.cfg.GetRejectedRouteKey())
		return path
	}

	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := ctx.Cookies(rejectedRoute)
	if r == "" {
		if len(def) > 0 {
			return def[0]
		}
		return a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

// GetRedirectOrDefault resolves the post-login destination falling back to
// the referer header and then the configured default.
func (a *RouteSession) GetRedirectOrDefault(ctx router.Context) string {
	if path, ok := a.consumeStoredRedirect(ctx.Context()); ok {
		a.cookieDel(ctx, a.cfg.GetRejectedRouteKey())
		return path
	}

	rejectedRoute := a.cfg.GetRejectedRouteKey()
	refererHeader := string(ctx.Referer())

	r := ctx.Cookies(rejectedRoute, refererHeader)
	if r == "" {
		r = a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

// SetRedirect records the attempted path for after login, in the store and
// mirrored in the cookie.
func (a *RouteSession) SetRedirect(ctx router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	path := ctx.OriginalURL()

	a.Logger.Info("Setting redirect", "key", rejectedRoute, "path", path)

	if err := a.store.PutFact(ctx.Context(), MarkerRedirect, path, 0); err != nil {
		a.Logger.Warn("failed to persist redirect marker", "error", err)
	}

	ctx.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    path,
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteSession) consumeStoredRedirect(ctx context.Context) (string, bool) {
	var path string
	if !a.store.Fact(ctx, MarkerRedirect, &path) || path == "" {
		return "", false
	}
	if err := a.store.DeleteFact(ctx, MarkerRedirect); err != nil {
		a.Logger.Warn("failed to clear redirect marker", "error", err)
	}
	return path, true
}

func (a *RouteSession) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteSession) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteSession) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	a.SetRedirect(c)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect(defaultLoginPath, statusCode)
}

func (a *RouteSession) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.Status(richErr.Code).Render("errors/500", router.ViewContext{
			"error": richErr,
		})
	}
}
