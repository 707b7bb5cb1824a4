package authstate

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authstate/middleware/csrf"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// SessionAuthenticator is the slice of the state machine the HTTP
// controller drives.
type SessionAuthenticator interface {
	Login(ctx context.Context, credential string) (Snapshot, error)
	Logout(ctx context.Context) error
	RefreshAuthStatus(ctx context.Context) bool
	Snapshot() Snapshot
}

// SessionStater reports and extends monitor state for the status endpoints.
// *SessionMonitor satisfies it.
type SessionStater interface {
	Running() bool
	State() SessionState
	MarkActivity()
	ExtendSession(ctx context.Context) error
}

// RegisterSessionRoutes mounts the session controller on the given router.
func RegisterSessionRoutes[T any](app router.Router[T], opts ...SessionControllerOption) {

	controller := NewSessionController(opts...)

	app.
		Get(controller.Routes.Login,
			controller.LoginShow,
		).
		SetName("sign-in.get")

	var loginGuards []router.MiddlewareFunc
	if controller.GoogleCSRF {
		loginGuards = append(loginGuards, csrf.New(csrf.GoogleSignIn()))
	}

	app.
		Post(
			controller.Routes.GoogleLogin,
			controller.LoginPost,
			loginGuards...,
		).
		SetName("google-login.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.Get(controller.Routes.Status, controller.Status).
		SetName("session-status.get")
	app.Post(controller.Routes.Extend, controller.SessionExtend).
		SetName("session-extend.post")
	app.Post(controller.Routes.Activity, controller.SessionActivity).
		SetName("session-activity.post")
}

type SessionControllerRoutes struct {
	Login       string
	GoogleLogin string
	Logout      string
	Status      string
	Extend      string
	Activity    string
}

type SessionControllerViews struct {
	Login string
}

type SessionController struct {
	Debug        bool
	Logger       Logger
	Machine      SessionAuthenticator
	Monitor      SessionStater
	Session      HTTPSession
	Store        CredentialStore
	Routes       *SessionControllerRoutes
	Views        *SessionControllerViews
	ErrorHandler router.ErrorHandler
	// GoogleCSRF validates the g_csrf_token double submit pair on the
	// credential POST. Enable it when the Sign-In button runs in
	// login_uri redirect mode; the JS callback mode posts JSON and
	// carries no pair.
	GoogleCSRF bool
}

type SessionControllerOption func(*SessionController) *SessionController

func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger:       defaultLogger(),
		ErrorHandler: defaultControllerErrHandler,
		Routes: &SessionControllerRoutes{
			Login:       "/login",
			GoogleLogin: "/auth/google-login",
			Logout:      "/logout",
			Status:      "/auth/status",
			Extend:      "/session/extend",
			Activity:    "/session/activity",
		},
		Views: &SessionControllerViews{
			Login: "login",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Machine == nil {
		panic("Missing StateMachine in session controller...")
	}

	if c.Session == nil {
		panic("Missing HTTPSession in session controller...")
	}

	if c.Store == nil {
		panic("Missing CredentialStore in session controller...")
	}

	return c
}

func (a *SessionController) LoginShow(ctx router.Context) error {
	if snap := a.Machine.Snapshot(); snap.IsAuthenticated() {
		return ctx.Redirect(a.Session.GetRedirectOrDefault(ctx), router.StatusSeeOther)
	}

	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// GoogleLoginRequest carries the credential posted by the Google Sign-In
// button. The form field name follows Google Identity Services.
type GoogleLoginRequest struct {
	Credential string `form:"credential" json:"token"`
}

// GetCredential returns the raw external credential
func (r GoogleLoginRequest) GetCredential() string {
	return r.Credential
}

// Validate will run validation rules
func (r GoogleLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Credential,
			validation.Required,
		),
	)
}

func (a *SessionController) LoginPost(ctx router.Context) error {
	payload := new(GoogleLoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("google login parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Login, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("google login validate payload: ", "error", err)
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	snap, err := a.Machine.Login(ctx.Context(), payload.Credential)
	if err != nil {
		msg, ok := UserFacingMessage(err)
		if !ok {
			msg = "Authentication Error"
		}
		return ctx.Render(a.Views.Login, router.ViewContext{
			"errors": map[string]string{"authentication": msg},
			"record": payload,
		})
	}

	if token, ok := a.Store.Token(ctx.Context()); ok {
		a.Session.StoreToken(ctx, token)
	}

	if a.Debug {
		fmt.Println("======= SESSION LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(snap.User))
		fmt.Println("============================")
	}

	redirect := a.Session.GetRedirect(ctx, "/")

	return ctx.Redirect(redirect, router.StatusSeeOther)
}

func (a *SessionController) LogOut(ctx router.Context) error {
	if err := a.Machine.Logout(ctx.Context()); err != nil {
		a.Logger.Error("logout error", "error", err)
	}
	a.Session.ClearToken(ctx)
	return ctx.Redirect(a.Routes.Login, router.StatusTemporaryRedirect)
}

// Status reports the auth snapshot plus, when monitoring is active, the
// session state. It is the polling endpoint for dashboard chrome.
func (a *SessionController) Status(ctx router.Context) error {
	snap := a.Machine.Snapshot()

	payload := map[string]any{
		"authenticated": snap.IsAuthenticated(),
		"auth_checked":  snap.AuthChecked,
		"loading":       snap.Loading,
		"is_admin":      snap.IsAdmin,
	}

	if snap.User != nil {
		payload["user"] = snap.User
	}

	if msg, ok := UserFacingMessage(snap.Error); ok {
		payload["error"] = msg
	}

	if a.Monitor != nil && a.Monitor.Running() {
		payload["session"] = a.Monitor.State()
	}

	return ctx.JSON(router.StatusOK, payload)
}

func (a *SessionController) SessionExtend(ctx router.Context) error {
	if a.Monitor == nil || !a.Monitor.Running() {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "session monitoring disabled",
		})
	}

	if err := a.Monitor.ExtendSession(ctx.Context()); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": "session expired, sign in again",
			})
		}
		a.Logger.Error("extend session error", "error", err)
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"session": a.Monitor.State(),
	})
}

// SessionActivity is the heartbeat endpoint: the dashboard pings it on user
// interaction so the idle clock resets server-side.
func (a *SessionController) SessionActivity(ctx router.Context) error {
	if a.Monitor == nil || !a.Monitor.Running() {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "session monitoring disabled",
		})
	}

	a.Monitor.MarkActivity()

	return ctx.JSON(router.StatusOK, map[string]any{
		"session": a.Monitor.State(),
	})
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field to message map suitable for view rendering.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

func defaultControllerErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
