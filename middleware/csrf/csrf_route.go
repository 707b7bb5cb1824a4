package csrf

import "github.com/goliatone/go-router"

// RouteConfig controls how the CSRF token bootstrap endpoint behaves.
type RouteConfig struct {
	// Path is the route registered for retrieving the CSRF token.
	Path string
	// ContextKey is the context key where the middleware stored the token.
	ContextKey string
	// RouteName is the name assigned to the registered route.
	RouteName string
}

const (
	defaultRoutePath = "/csrf"
	defaultRouteName = "session.csrf.get"
)

// TokenResponse is the payload the dashboard fetches once on boot. Later
// XHR calls echo Token in the HeaderName header; rendered forms embed it
// under FieldName.
type TokenResponse struct {
	Token      string `json:"token"`
	FieldName  string `json:"field_name"`
	HeaderName string `json:"header_name"`
}

// tokens are per session, never cacheable
var noStoreHeaders = [...][2]string{
	{"Cache-Control", "no-store, max-age=0"},
	{"Pragma", "no-cache"},
	{"Expires", "0"},
}

// RegisterRoutes registers a GET endpoint serving the CSRF token and the
// field and header names that must echo it. It expects the CSRF middleware
// to have already populated the request context with a token.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, tokenHandler(conf)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		RouteName:  defaultRouteName,
	}

	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}

	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}

	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}

	return conf
}

func tokenHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		token := localString(ctx, cfg.ContextKey, "")
		if token == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": ErrTokenMissing.Error(),
			})
		}

		for _, header := range noStoreHeaders {
			ctx.SetHeader(header[0], header[1])
		}

		return ctx.JSON(router.StatusOK, TokenResponse{
			Token:      token,
			FieldName:  localString(ctx, cfg.ContextKey+"_field", DefaultFormFieldName),
			HeaderName: localString(ctx, cfg.ContextKey+"_header", DefaultHeaderName),
		})
	}
}

// localString reads a string local, falling back when it is absent or empty.
func localString(ctx router.Context, key, fallback string) string {
	if v, ok := ctx.Locals(key).(string); ok && v != "" {
		return v
	}
	return fallback
}
