package authstate_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockOracle implements authstate.Oracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Login(ctx context.Context, credential string) (*authstate.LoginResult, error) {
	args := m.Called(ctx, credential)
	var result *authstate.LoginResult
	if v := args.Get(0); v != nil {
		result = v.(*authstate.LoginResult)
	}
	return result, args.Error(1)
}

func (m *MockOracle) CurrentUser(ctx context.Context) (*authstate.User, error) {
	args := m.Called(ctx)
	var user *authstate.User
	if v := args.Get(0); v != nil {
		user = v.(*authstate.User)
	}
	return user, args.Error(1)
}

func (m *MockOracle) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockConfig implements authstate.Config
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) GetAPIBaseURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetRuntimeMode() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetContextKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetTokenLookup() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetAuthScheme() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetCookieDuration() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockConfig) GetRejectedRouteKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetRejectedRouteDefault() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetGoogleClientID() string {
	args := m.Called()
	return args.String(0)
}

func newMockConfig() *MockConfig {
	mockConfig := new(MockConfig)
	mockConfig.On("GetContextKey").Return("auth_token").Maybe()
	mockConfig.On("GetCookieDuration").Return(24).Maybe()
	mockConfig.On("GetRejectedRouteKey").Return("rejected_route").Maybe()
	mockConfig.On("GetRejectedRouteDefault").Return("/login").Maybe()
	mockConfig.On("GetTokenLookup").Return("cookie:auth_token").Maybe()
	mockConfig.On("GetAuthScheme").Return("Bearer").Maybe()
	return mockConfig
}

type stubFeatureGate struct {
	enabled map[string]bool
	calls   []string
	err     error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if s.err != nil {
		return false, s.err
	}
	if s.enabled == nil {
		return true, nil
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// recordingSink collects activity events so tests can assert on lifecycle
// publications.
type recordingSink struct {
	mu     sync.Mutex
	events []authstate.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event authstate.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Events() []authstate.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authstate.ActivityEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) Types() []authstate.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authstate.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *recordingSink) Has(eventType authstate.ActivityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// stubAuthority implements authstate.SessionAuthority for monitor tests.
type stubAuthority struct {
	mu            sync.Mutex
	refreshResult bool
	refreshCalls  int
	logoutCalls   int
	refreshed     chan struct{}
}

func (s *stubAuthority) RefreshAuthStatus(ctx context.Context) bool {
	s.mu.Lock()
	s.refreshCalls++
	result := s.refreshResult
	notify := s.refreshed
	s.mu.Unlock()

	if notify != nil {
		notify <- struct{}{}
	}
	return result
}

func (s *stubAuthority) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutCalls++
	return nil
}

func (s *stubAuthority) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *stubAuthority) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls
}

// stubGuardAuthority implements authstate.GuardAuthority with controllable
// snapshot, cache answer, and refresh behavior.
type stubGuardAuthority struct {
	mu           sync.Mutex
	snapshot     authstate.Snapshot
	cached       bool
	refreshCalls int
	// onRefresh, when set, runs inside RefreshAuthStatus before it returns;
	// tests use it to block a verification mid-flight.
	onRefresh func()
}

func (s *stubGuardAuthority) Snapshot() authstate.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stubGuardAuthority) SetSnapshot(snap authstate.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

func (s *stubGuardAuthority) RefreshAuthStatus(ctx context.Context) bool {
	s.mu.Lock()
	s.refreshCalls++
	hook := s.onRefresh
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.User != nil
}

func (s *stubGuardAuthority) AuthenticatedFromCache(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

func (s *stubGuardAuthority) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// MockContext mocks router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func adminTestUser() *authstate.User {
	return &authstate.User{
		ID:        uuid.New(),
		Email:     "admin@example.com",
		FirstName: "Ada",
		LastName:  "Admin",
		Role:      authstate.RoleAdmin,
		IsActive:  true,
	}
}

func memberTestUser() *authstate.User {
	return &authstate.User{
		ID:        uuid.New(),
		Email:     "member@example.com",
		FirstName: "Mel",
		LastName:  "Member",
		Role:      authstate.RoleMember,
		IsActive:  true,
	}
}
