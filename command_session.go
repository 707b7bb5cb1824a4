package authstate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RefreshSessionMessage asks the state machine to re-validate the stored
// credential against the backend.
type RefreshSessionMessage struct {
	OnResponse func(resp *RefreshSessionResponse)
}

func (p RefreshSessionMessage) Type() string { return "session.refresh" }

type RefreshSessionResponse struct {
	Authenticated bool
	Snapshot      Snapshot
}

type RefreshSessionHandler struct {
	machine SessionAuthenticator
}

func NewRefreshSessionHandler(machine SessionAuthenticator) *RefreshSessionHandler {
	return &RefreshSessionHandler{machine: machine}
}

func (h *RefreshSessionHandler) Execute(ctx context.Context, event RefreshSessionMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during session refresh",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RefreshSessionHandler) execute(ctx context.Context, event RefreshSessionMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	authenticated := h.machine.RefreshAuthStatus(ctx)

	if event.OnResponse != nil {
		event.OnResponse(&RefreshSessionResponse{
			Authenticated: authenticated,
			Snapshot:      h.machine.Snapshot(),
		})
	}

	return nil
}

// ExtendSessionMessage clears an idle warning and restarts the idle clocks.
type ExtendSessionMessage struct {
	OnResponse func(resp *ExtendSessionResponse)
}

func (p ExtendSessionMessage) Type() string { return "session.extend" }

type ExtendSessionResponse struct {
	State SessionState
}

type ExtendSessionHandler struct {
	monitor SessionStater
}

func NewExtendSessionHandler(monitor SessionStater) *ExtendSessionHandler {
	return &ExtendSessionHandler{monitor: monitor}
}

func (h *ExtendSessionHandler) Execute(ctx context.Context, event ExtendSessionMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during session extension",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ExtendSessionHandler) execute(ctx context.Context, event ExtendSessionMessage) error {
	if err := h.monitor.ExtendSession(ctx); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to extend session")
	}

	if event.OnResponse != nil {
		event.OnResponse(&ExtendSessionResponse{State: h.monitor.State()})
	}

	return nil
}

// ForceLogoutMessage tears the session down on behalf of an operator or a
// policy decision, recording why.
type ForceLogoutMessage struct {
	Reason     string `json:"reason" example:"admin_revoked" doc:"Reason recorded with the logout activity event."`
	OnResponse func(resp *ForceLogoutResponse)
}

func (p ForceLogoutMessage) Type() string { return "session.force_logout" }

type ForceLogoutResponse struct {
	Success bool
}

type ForceLogoutHandler struct {
	machine SessionAuthenticator
}

func NewForceLogoutHandler(machine SessionAuthenticator) *ForceLogoutHandler {
	return &ForceLogoutHandler{machine: machine}
}

func (h *ForceLogoutHandler) Execute(ctx context.Context, event ForceLogoutMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during forced logout",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ForceLogoutHandler) execute(ctx context.Context, event ForceLogoutMessage) error {
	if err := h.machine.Logout(ctx); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to force logout")
	}

	if event.OnResponse != nil {
		event.OnResponse(&ForceLogoutResponse{Success: true})
	}

	return nil
}
