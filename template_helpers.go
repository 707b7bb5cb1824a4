package authstate

import (
	"maps"

	"github.com/goliatone/go-authstate/middleware/csrf"
	"github.com/goliatone/go-router"
)

var TemplateUserKey = "current_user"

// TemplateHelpers returns a map of helper functions and data that can be used
// with go-template's WithGlobalData option for session-related template
// functionality.
//
// Usage:
//
//	renderer, err := template.NewRenderer(
//	    template.WithBaseDir("./templates"),
//	    template.WithGlobalData(authstate.TemplateHelpers()),
//	)
//
// In templates, you can then use:
//
//	{% if current_user %}
//	{% if current_user|is_admin %}
//	{% if current_user|has_role:"Member" %}
//	{{ csrf_field }}
//	{{ csrf_token }}
func TemplateHelpers() map[string]any {
	helpers := map[string]any{
		"is_authenticated": isAuthenticatedHelper,
		"is_admin":         isAdminHelper,
		"has_role":         hasRoleHelper,
		"display_name":     displayNameHelper,

		// Role constants for easy template access
		"roles": map[string]string{
			"admin":  string(RoleAdmin),
			"member": string(RoleMember),
		},
	}

	// add CSRF template helpers
	maps.Copy(helpers, csrf.CSRFTemplateHelpers())

	return helpers
}

// TemplateHelpersWithUser returns template helpers with a specific user set
// as current_user. Useful when the current user is resolved before rendering.
func TemplateHelpersWithUser(user *User) map[string]any {
	helpers := TemplateHelpers()
	helpers[TemplateUserKey] = user
	return helpers
}

// TemplateHelpersWithRouter returns template helpers with user data extracted
// from the router context, as populated by the guard middleware. It also
// resolves CSRF helpers against the request so tokens carry real values.
func TemplateHelpersWithRouter(ctx router.Context, userKey string) map[string]any {
	if userKey == "" {
		userKey = TemplateUserKey
	}

	helpers := TemplateHelpers()

	if user := ctx.Locals(userKey); user != nil {
		helpers[TemplateUserKey] = user
	}

	for key, value := range csrf.CSRFTemplateHelpersWithRouter(ctx, csrf.DefaultContextKey) {
		helpers[key] = value
	}

	return helpers
}

// GetTemplateUser extracts user data from the router context for template
// usage. It returns the user object and whether it was found.
func GetTemplateUser(ctx router.Context, userKey string) (any, bool) {
	if userKey == "" {
		userKey = TemplateUserKey
	}

	user := ctx.Locals(userKey)
	return user, user != nil
}

// isAuthenticatedHelper checks if the provided user object is not nil
func isAuthenticatedHelper(user any) bool {
	if user == nil {
		return false
	}

	switch u := user.(type) {
	case *User:
		return u != nil
	case User:
		return true
	case *TokenClaims:
		return u != nil && u.UserID() != ""
	case map[string]any:
		// Handle JSON-converted user objects
		return len(u) > 0
	default:
		return false
	}
}

// isAdminHelper checks whether the user carries the admin role
func isAdminHelper(user any) bool {
	switch u := user.(type) {
	case *User:
		return u.IsAdmin()
	case User:
		return u.Role.IsAdmin()
	case *TokenClaims:
		if u == nil {
			return false
		}
		return Role(u.Role()).IsAdmin()
	case map[string]any:
		// Handle JSON-converted user objects
		if role, exists := u["role"]; exists {
			if roleStr, ok := role.(string); ok {
				return Role(roleStr).IsAdmin()
			}
		}
		return false
	default:
		return false
	}
}

// hasRoleHelper checks if the user has the specified role
func hasRoleHelper(user any, role string) bool {
	targetRole := Role(role)

	switch u := user.(type) {
	case *User:
		if u == nil {
			return false
		}
		return u.Role == targetRole
	case User:
		return u.Role == targetRole
	case *TokenClaims:
		if u == nil {
			return false
		}
		return u.HasRole(role)
	case map[string]any:
		// Handle JSON-converted user objects
		if userRole, exists := u["role"]; exists {
			if roleStr, ok := userRole.(string); ok {
				return Role(roleStr) == targetRole
			}
		}
		return false
	default:
		return false
	}
}

// displayNameHelper resolves a printable name for the user, falling back to
// the email address.
func displayNameHelper(user any) string {
	switch u := user.(type) {
	case *User:
		if u == nil {
			return ""
		}
		if name := u.FullName(); name != "" {
			return name
		}
		return u.Email
	case User:
		if name := u.FullName(); name != "" {
			return name
		}
		return u.Email
	case *TokenClaims:
		if u == nil {
			return ""
		}
		return u.Email
	case map[string]any:
		for _, key := range []string{"first_name", "email"} {
			if v, ok := u[key].(string); ok && v != "" {
				return v
			}
		}
		return ""
	default:
		return ""
	}
}
