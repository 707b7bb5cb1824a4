package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch = errors.New("CSRF token mismatch")
	ErrTokenMissing  = errors.New("CSRF token missing")
	ErrCookieMissing = errors.New("CSRF cookie missing")
)

// DefaultTokenLength is the byte length of minted CSRF tokens
const DefaultTokenLength = 32

// DefaultTemplateHelpersKey defines the default context key used when merging CSRF template helpers.
const DefaultTemplateHelpersKey = "template_helpers"

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultCookieName is the cookie carrying the reference half of the
// double submit pair
const DefaultCookieName = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// GoogleCookieName is the double submit cookie the Google Identity
// Services client sets alongside the credential POST.
const GoogleCookieName = "g_csrf_token"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the byte length of minted tokens
	TokenLength int

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// CookieName is the cookie holding the reference token
	CookieName string

	// FormFieldName defines the name of the form field echoing the token
	FormFieldName string

	// HeaderName defines the header name echoing the token
	HeaderName string

	// TokenLookup defines where to look for the echoed token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// ExternalIssuer marks the cookie as minted by a third party, such as
	// the Google Sign-In client. The middleware then only verifies the
	// pair and never writes the cookie itself.
	ExternalIssuer bool

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SuccessHandler defines the success handler
	SuccessHandler router.HandlerFunc

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines the minted cookie lifetime
	Expiration time.Duration

	// DisableTemplateHelpers disables automatic template helper injection when true.
	DisableTemplateHelpers bool
	// TemplateHelpersKey defines the context key used when storing helper maps via LocalsMerge.
	TemplateHelpersKey string
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(router.Context) (string, error)

// GoogleSignIn returns the configuration that validates the double submit
// pair posted by the Google Sign-In button: the g_csrf_token body field
// must match the g_csrf_token cookie, both written by the Google client.
func GoogleSignIn() Config {
	return Config{
		CookieName:             GoogleCookieName,
		FormFieldName:          GoogleCookieName,
		TokenLookup:            "form:" + GoogleCookieName,
		ExternalIssuer:         true,
		DisableTemplateHelpers: true,
	}
}

// New creates a new CSRF middleware using the double submit cookie
// pattern: unsafe requests must echo the cookie token in a form field or
// header. First party cookies are minted on demand; set ExternalIssuer
// when a client library such as Google Sign-In owns the cookie.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			token := ctx.Cookies(cfg.CookieName)
			if token == "" && !cfg.ExternalIssuer {
				generated, err := generateToken(cfg.TokenLength)
				if err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
				token = generated
				setTokenCookie(ctx, cfg, token)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)
			if !cfg.DisableTemplateHelpers {
				helpers := CSRFTemplateHelpersWithRouter(ctx, cfg.ContextKey)
				ctx.LocalsMerge(cfg.TemplateHelpersKey, helpers)
			}

			// safe methods don't require validation
			method := strings.ToUpper(ctx.Method())
			if slices.Contains(cfg.SafeMethods, method) {
				return cfg.SuccessHandler(ctx)
			}

			if err := validateToken(ctx, cfg, token); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// validateToken compares the echoed request token against the cookie half
// of the double submit pair
func validateToken(ctx router.Context, cfg Config, cookieToken string) error {
	if cookieToken == "" {
		return ErrCookieMissing
	}

	receivedToken := extractToken(ctx, cfg)
	if receivedToken == "" {
		return ErrTokenMissing
	}

	if subtle.ConstantTimeCompare([]byte(receivedToken), []byte(cookieToken)) != 1 {
		return ErrTokenMismatch
	}

	return nil
}

// generateToken generates a cryptographically secure random token
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func setTokenCookie(ctx router.Context, cfg Config, token string) {
	ctx.Cookie(&router.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Expires:  time.Now().Add(cfg.Expiration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func extractToken(ctx router.Context, cfg Config) string {
	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	for _, extractor := range extractors {
		token, err := extractor(ctx)
		if token != "" && err == nil {
			return token
		}
	}

	return ""
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	var extractors []TokenExtractor

	if tokenLookup == "" {
		// Default extractors
		extractors = append(extractors,
			extractorFromForm(formField),
			extractorFromHeader(header),
		)
		return extractors
	}

	// Parse tokenLookup: "form:_token,header:X-CSRF-Token"
	parts := strings.Split(tokenLookup, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "form:") {
			field := strings.TrimPrefix(part, "form:")
			extractors = append(extractors, extractorFromForm(field))
		} else if strings.HasPrefix(part, "header:") {
			headerName := strings.TrimPrefix(part, "header:")
			extractors = append(extractors, extractorFromHeader(headerName))
		}
	}

	return extractors
}

// extractorFromForm extracts token from form data
func extractorFromForm(fieldName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.FormValue(fieldName), nil
	}
}

// extractorFromHeader extracts token from request header
func extractorFromHeader(headerName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.GetString(headerName, ""), nil
	}
}

// configDefault returns a default config
func configDefault(config ...Config) Config {
	if len(config) < 1 {
		base := Config{
			TokenLength:        DefaultTokenLength,
			ContextKey:         DefaultContextKey,
			CookieName:         DefaultCookieName,
			FormFieldName:      DefaultFormFieldName,
			HeaderName:         DefaultHeaderName,
			SafeMethods:        []string{"GET", "HEAD", "OPTIONS", "TRACE"},
			Expiration:         24 * time.Hour,
			TemplateHelpersKey: DefaultTemplateHelpersKey,
			SuccessHandler: func(ctx router.Context) error {
				return ctx.Next()
			},
		}

		base.ErrorHandler = defaultErrorHandler(base)
		return base
	}

	cfg := config[0]

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler(cfg)
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.TemplateHelpersKey == "" {
		cfg.TemplateHelpersKey = DefaultTemplateHelpersKey
	}

	return cfg
}

func defaultErrorHandler(cfg Config) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		switch err {
		case ErrTokenMissing:
			return ctx.Status(router.StatusBadRequest).SendString("CSRF token missing")
		case ErrCookieMissing:
			return ctx.Status(router.StatusForbidden).SendString("CSRF cookie missing")
		case ErrTokenMismatch:
			return ctx.Status(router.StatusForbidden).SendString("CSRF token mismatch")
		default:
			return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
		}
	}
}

// CSRFTemplateHelpers returns template helper functions for CSRF protection
func CSRFTemplateHelpers() map[string]any {
	return map[string]any{
		"csrf_token":       "",
		"csrf_field":       `<input type="hidden" name="` + DefaultFormFieldName + `" value="">`,
		"csrf_meta":        `<meta name="csrf-token" content="">`,
		"csrf_header_name": DefaultHeaderName,
	}
}

// CSRFTemplateHelpersWithRouter returns template helpers with access to router context
func CSRFTemplateHelpersWithRouter(ctx router.Context, tokenKey string) map[string]any {
	if tokenKey == "" {
		tokenKey = DefaultContextKey
	}

	token := localString(ctx, tokenKey, "")
	fieldName := localString(ctx, tokenKey+"_field", DefaultFormFieldName)
	headerName := localString(ctx, tokenKey+"_header", DefaultHeaderName)

	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + fieldName + `" value="` + token + `">`,
		"csrf_meta":        `<meta name="csrf-token" content="` + token + `">`,
		"csrf_header_name": headerName,
	}
}
