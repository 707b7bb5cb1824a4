package authstate

import (
	"context"

	"github.com/goliatone/go-authstate/middleware/guardware"
	"github.com/goliatone/go-router"
)

// ValidationListener aliases the guardware listener so consumers can use authstate helpers directly.
type ValidationListener = guardware.ValidationListener

// ContextEnricherAdapter adapts guardware.AuthClaims to *TokenClaims and stores
// claims + user context in the standard context for downstream usage.
func ContextEnricherAdapter(c context.Context, claims guardware.AuthClaims) context.Context {
	tokenClaims, ok := claims.(*TokenClaims)
	if !ok {
		return c
	}

	ctxWithClaims := WithClaimsContext(c, tokenClaims)

	if user := UserFromClaims(tokenClaims); user != nil {
		return WithContext(ctxWithClaims, user)
	}

	return ctxWithClaims
}

// RegisterValidationListeners appends listeners to a guardware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *guardware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// GuardAdapter bridges a session Guard into the guardware contract.
func GuardAdapter(g *Guard) guardware.RouteGuard {
	return guardBridge{guard: g}
}

type guardBridge struct {
	guard *Guard
}

func (b guardBridge) Check(ctx context.Context, path string) guardware.Decision {
	return guardware.Decision(b.guard.Check(ctx, path))
}

// GuardValidatorAdapter bridges a TokenValidator into the guardware contract.
func GuardValidatorAdapter(v TokenValidator) guardware.TokenValidator {
	return guardValidator{validator: v}
}

type guardValidator struct {
	validator TokenValidator
}

func (a guardValidator) Validate(tokenString string) (guardware.AuthClaims, error) {
	claims, err := a.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// GuardUserProvider adapts a UserProvider into the guard middleware template
// hook: claims in, renderable session user out.
func GuardUserProvider(provider *UserProvider) func(guardware.AuthClaims) (any, error) {
	return func(claims guardware.AuthClaims) (any, error) {
		if provider == nil {
			return nil, ErrUnauthenticated
		}

		tokenClaims, _ := claims.(*TokenClaims)
		return provider.TemplateUser(context.Background(), tokenClaims)
	}
}

// SessionClaimsListener backfills empty opaque-token claims from the live
// session user so role checks keep working on routes behind the guard.
func SessionClaimsListener(source SessionUserSource, contextKey string) ValidationListener {
	if contextKey == "" {
		contextKey = "user"
	}

	return func(ctx router.Context, claims guardware.AuthClaims) error {
		if claims != nil && claims.UserID() != "" {
			return nil
		}

		snap := source.Snapshot()
		if snap.User == nil {
			return nil
		}

		ctx.Locals(contextKey, ClaimsFromUser(snap.User))
		return nil
	}
}
