package authstateadapter

import (
	"context"
	"sort"

	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/google/uuid"
)

const defaultActorRefType = "user"

// defaultResource scopes the capability permissions the adapter derives.
const defaultResource = "session"

// Identity is the session identity the adapter derives feature claims from.
type Identity struct {
	SubjectID string
	Email     string
	Role      string
}

// IdentityExtractor extracts a session Identity from context.
type IdentityExtractor func(context.Context) (Identity, bool)

// RoleMapper builds role identifiers from a session identity.
type RoleMapper func(identity Identity) []string

// PermMapper builds permission identifiers from a session identity.
type PermMapper func(identity Identity) []string

// PermissionFormatter formats a resource/capability pair into a permission string.
type PermissionFormatter func(resource, capability string) string

// Option customizes ClaimsProvider behavior.
type Option func(*ClaimsProvider)

// ClaimsProvider derives feature claims from the session identity carried in
// context by the auth state machine and its middleware.
type ClaimsProvider struct {
	extractor     IdentityExtractor
	roleMapper    RoleMapper
	permMapper    PermMapper
	permFormatter PermissionFormatter
}

// NewClaimsProvider builds a claims provider over the session context helpers.
func NewClaimsProvider(opts ...Option) *ClaimsProvider {
	provider := &ClaimsProvider{
		extractor:     IdentityFromContext,
		permFormatter: defaultPermissionFormatter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = IdentityFromContext
	}
	if provider.permFormatter == nil {
		provider.permFormatter = defaultPermissionFormatter
	}
	if provider.roleMapper == nil {
		provider.roleMapper = defaultRoleMapper
	}
	if provider.permMapper == nil {
		provider.permMapper = defaultPermMapper(provider.permFormatter)
	}
	return provider
}

// WithIdentityExtractor overrides the session identity extractor.
func WithIdentityExtractor(extractor IdentityExtractor) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.extractor = extractor
	}
}

// WithRoleMapper overrides the default role mapper.
func WithRoleMapper(mapper RoleMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.roleMapper = mapper
	}
}

// WithPermMapper overrides the default permission mapper.
func WithPermMapper(mapper PermMapper) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.permMapper = mapper
	}
}

// WithPermissionFormatter customizes the resource/capability permission formatter.
func WithPermissionFormatter(format PermissionFormatter) Option {
	return func(provider *ClaimsProvider) {
		if provider == nil {
			return
		}
		provider.permFormatter = format
	}
}

// ClaimsFromContext implements gate.ClaimsProvider.
func (p *ClaimsProvider) ClaimsFromContext(ctx context.Context) (gate.ActorClaims, error) {
	if p == nil || p.extractor == nil {
		return gate.ActorClaims{}, nil
	}
	identity, ok := p.extractor(ctx)
	if !ok {
		return gate.ActorClaims{}, nil
	}
	return claimsFromIdentity(identity, p.roleMapper, p.permMapper), nil
}

// ClaimsFromIdentity builds ActorClaims from a session identity using defaults.
func ClaimsFromIdentity(identity Identity) gate.ActorClaims {
	return claimsFromIdentity(identity, defaultRoleMapper, defaultPermMapper(defaultPermissionFormatter))
}

// IdentityFromContext derives the session identity from context. The session
// user wins when both a profile and raw token claims are present; claims are
// the fallback for transports that never resolve a full profile.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if user, ok := authstate.FromContext(ctx); ok && user != nil {
		return IdentityFromUser(user), true
	}
	if claims, ok := authstate.GetClaims(ctx); ok && claims != nil {
		return IdentityFromClaims(claims), true
	}
	return Identity{}, false
}

// IdentityFromUser maps a session profile to the adapter identity.
func IdentityFromUser(user *authstate.User) Identity {
	if user == nil {
		return Identity{}
	}
	subjectID := ""
	if user.ID != uuid.Nil {
		subjectID = user.ID.String()
	}
	return Identity{
		SubjectID: subjectID,
		Email:     user.Email,
		Role:      string(user.Role),
	}
}

// IdentityFromClaims maps bearer-token claims to the adapter identity.
func IdentityFromClaims(claims *authstate.TokenClaims) Identity {
	if claims == nil {
		return Identity{}
	}
	return Identity{
		SubjectID: claims.UserID(),
		Email:     claims.Email,
		Role:      claims.Role(),
	}
}

func claimsFromIdentity(identity Identity, roleMapper RoleMapper, permMapper PermMapper) gate.ActorClaims {
	subjectID := identity.SubjectID
	if subjectID == "" {
		subjectID = identity.Email
	}
	claims := gate.ActorClaims{
		SubjectID: subjectID,
	}
	if roleMapper != nil {
		claims.Roles = roleMapper(identity)
	}
	if permMapper != nil {
		claims.Perms = permMapper(identity)
	}
	return claims
}

func defaultRoleMapper(identity Identity) []string {
	if identity.Role == "" {
		return nil
	}
	return []string{identity.Role}
}

// defaultPermMapper derives capability permissions from the session role:
// every signed-in identity may read, only admins get the write capabilities.
func defaultPermMapper(format PermissionFormatter) PermMapper {
	return func(identity Identity) []string {
		if identity.SubjectID == "" && identity.Email == "" {
			return nil
		}
		formatter := format
		if formatter == nil {
			formatter = defaultPermissionFormatter
		}
		perms := []string{formatter(defaultResource, "read")}
		if authstate.Role(identity.Role).IsAdmin() {
			perms = append(perms,
				formatter(defaultResource, "create"),
				formatter(defaultResource, "edit"),
				formatter(defaultResource, "delete"),
			)
		}
		sort.Strings(perms)
		return perms
	}
}

func defaultPermissionFormatter(resource, capability string) string {
	return resource + ":" + capability
}

// PermConflictResolver combines claim perms with derived perms.
type PermConflictResolver func(existing, derived []string) []string

// PermOption customizes permission provider behavior.
type PermOption func(*PermissionProvider)

// PermissionProvider derives permissions from claims and the session identity.
type PermissionProvider struct {
	extractor        IdentityExtractor
	conflictResolver PermConflictResolver
}

// NewPermissionProvider builds a permission provider over the session context helpers.
func NewPermissionProvider(opts ...PermOption) *PermissionProvider {
	provider := &PermissionProvider{
		extractor:        IdentityFromContext,
		conflictResolver: mergePerms,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = IdentityFromContext
	}
	if provider.conflictResolver == nil {
		provider.conflictResolver = mergePerms
	}
	return provider
}

// WithPermIdentityExtractor overrides the identity extractor used to derive permissions.
func WithPermIdentityExtractor(extractor IdentityExtractor) PermOption {
	return func(provider *PermissionProvider) {
		if provider == nil {
			return
		}
		provider.extractor = extractor
	}
}

// WithPermConflictResolver overrides how derived permissions are merged.
func WithPermConflictResolver(resolver PermConflictResolver) PermOption {
	return func(provider *PermissionProvider) {
		if provider == nil {
			return
		}
		provider.conflictResolver = resolver
	}
}

// Permissions implements gate.PermissionProvider.
func (p *PermissionProvider) Permissions(ctx context.Context, claims gate.ActorClaims) ([]string, error) {
	if p == nil {
		return claims.Perms, nil
	}
	var derived []string
	if p.extractor != nil {
		identity, ok := p.extractor(ctx)
		if ok {
			derived = defaultPermMapper(defaultPermissionFormatter)(identity)
		}
	}
	if p.conflictResolver == nil {
		return mergePerms(claims.Perms, derived), nil
	}
	return p.conflictResolver(claims.Perms, derived), nil
}

func mergePerms(existing, derived []string) []string {
	if len(existing) == 0 && len(derived) == 0 {
		return nil
	}
	merged := make([]string, 0, len(existing)+len(derived))
	merged = append(merged, existing...)
	merged = append(merged, derived...)
	return merged
}

// ActorRefFromIdentity builds an ActorRef from a session identity.
func ActorRefFromIdentity(identity Identity) gate.ActorRef {
	id := identity.SubjectID
	if id == "" {
		id = identity.Email
	}
	name := identity.Email
	if name == "" {
		name = identity.Role
	}
	return gate.ActorRef{
		ID:   id,
		Type: defaultActorRefType,
		Name: name,
	}
}

// ActorRefFromContext extracts an ActorRef from context.
func ActorRefFromContext(ctx context.Context) (gate.ActorRef, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return gate.ActorRef{}, false
	}
	return ActorRefFromIdentity(identity), true
}

var _ gate.ClaimsProvider = (*ClaimsProvider)(nil)
var _ gate.PermissionProvider = (*PermissionProvider)(nil)
