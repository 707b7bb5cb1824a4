package authstate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultOracleLoginPath   = "/auth/google-login"
	defaultOracleProfilePath = "/auth/me"
	defaultOracleHealthPath  = "/health"
)

// TokenSource supplies the bearer token attached to authenticated calls.
// CredentialStore satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// LoginResult couples the exchanged bearer token with the resolved profile.
// Both are present or the login failed; there is no partial success.
type LoginResult struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// Oracle wraps the remote login and "who am I" calls. It is the sole source
// of truth when cached facts are stale or absent.
type Oracle interface {
	// Login exchanges an external identity credential for a bearer token and
	// immediately resolves the profile behind it.
	Login(ctx context.Context, credential string) (*LoginResult, error)
	// CurrentUser resolves the profile for the stored token.
	CurrentUser(ctx context.Context) (*User, error)
	// HealthCheck probes the backend. Failures are advisory.
	HealthCheck(ctx context.Context) error
}

// OracleConfig holds the remote endpoint configuration.
type OracleConfig struct {
	BaseURL     string
	LoginPath   string
	ProfilePath string
	HealthPath  string
	Timeout     time.Duration

	HTTPClient *http.Client
}

// Validate checks the configuration before the oracle is constructed.
func (c OracleConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
	)
}

// HTTPOracleOption customizes the HTTP oracle.
type HTTPOracleOption func(*HTTPOracle)

// WithOracleLogger sets the oracle logger.
func WithOracleLogger(logger Logger) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOracleLoggerProvider resolves a scoped oracle logger from the provider.
func WithOracleLoggerProvider(provider LoggerProvider) HTTPOracleOption {
	return func(o *HTTPOracle) {
		_, o.logger = ResolveLogger("authstate.oracle", provider, o.logger)
	}
}

// HTTPOracle talks to the backend auth endpoints over HTTP.
type HTTPOracle struct {
	config     OracleConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     Logger
}

// NewHTTPOracle validates the configuration and builds the HTTP oracle.
func NewHTTPOracle(cfg OracleConfig, tokens TokenSource, opts ...HTTPOracleOption) (*HTTPOracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid oracle configuration")
	}
	if tokens == nil {
		return nil, goerrors.New("token source is required", goerrors.CategoryBadInput)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultOracleLoginPath
	}
	if cfg.ProfilePath == "" {
		cfg.ProfilePath = defaultOracleProfilePath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = defaultOracleHealthPath
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	oracle := &HTTPOracle{
		config:     cfg,
		httpClient: client,
		tokens:     tokens,
		logger:     defaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(oracle)
		}
	}

	return oracle, nil
}

var _ Oracle = (*HTTPOracle)(nil)

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login implements Oracle. Any rejection surfaces as an auth failure carrying
// the remote-reported message; a token whose profile fetch fails is reported
// as failure too, so callers never act on partial success.
func (o *HTTPOracle) Login(ctx context.Context, credential string) (*LoginResult, error) {
	payload, err := json.Marshal(loginRequest{Token: credential})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode login payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+o.config.LoginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "login",
			"cause":     err.Error(),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "login",
			"cause":     err.Error(),
		})
	}

	if resp.StatusCode != http.StatusOK {
		return nil, authFailure(remoteMessage(body), resp.StatusCode)
	}

	var token loginResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, authFailure("invalid login response", resp.StatusCode)
	}
	if token.AccessToken == "" {
		return nil, authFailure("login response missing access token", resp.StatusCode)
	}

	user, err := o.profile(ctx, token.AccessToken)
	if err != nil {
		o.logger.Debug("profile fetch after login failed", "error", err)
		return nil, goerrors.Wrap(ErrAuthFailure, goerrors.CategoryAuth, "login succeeded but profile fetch failed").
			WithTextCode(textCodeAuthFailure).
			WithMetadata(map[string]any{"cause": err.Error()})
	}

	return &LoginResult{Token: token.AccessToken, User: user}, nil
}

// CurrentUser implements Oracle. It is valid only with a stored token.
func (o *HTTPOracle) CurrentUser(ctx context.Context) (*User, error) {
	token, ok := o.tokens.Token(ctx)
	if !ok {
		return nil, ErrUnauthenticated.WithMetadata(map[string]any{
			"reason": "no stored token",
		})
	}
	return o.profile(ctx, token)
}

func (o *HTTPOracle) profile(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.BaseURL+o.config.ProfilePath, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build profile request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "current_user",
			"cause":     err.Error(),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "current_user",
			"cause":     err.Error(),
		})
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "current_user",
			"status":    resp.StatusCode,
		})
	default:
		return nil, ErrUnauthenticated.WithMetadata(map[string]any{
			"status": resp.StatusCode,
			"detail": remoteMessage(body),
		})
	}

	user := &User{}
	if err := json.Unmarshal(body, user); err != nil {
		return nil, ErrUnreachable.WithMetadata(map[string]any{
			"operation": "current_user",
			"cause":     "invalid profile response",
		})
	}

	return user, nil
}

// HealthCheck implements Oracle.
func (o *HTTPOracle) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.BaseURL+o.config.HealthPath, nil)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build health request")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return ErrUnreachable.WithMetadata(map[string]any{
			"operation": "health",
			"cause":     err.Error(),
		})
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ErrUnreachable.WithMetadata(map[string]any{
			"operation": "health",
			"status":    resp.StatusCode,
		})
	}

	return nil
}

func authFailure(message string, status int) error {
	if message == "" {
		message = "authentication failed"
	}
	return goerrors.Wrap(ErrAuthFailure, goerrors.CategoryAuth, message).
		WithTextCode(textCodeAuthFailure).
		WithMetadata(map[string]any{"status": status})
}

// remoteMessage pulls a human-readable message out of an error body. The
// backend reports either {"detail"}, {"message"}, or {"error"}.
func remoteMessage(body []byte) string {
	var msg struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		switch {
		case msg.Detail != "":
			return msg.Detail
		case msg.Message != "":
			return msg.Message
		case msg.Error != "":
			return msg.Error
		}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && len(trimmed) <= 200 && !strings.HasPrefix(trimmed, "<") {
		return trimmed
	}
	return ""
}
