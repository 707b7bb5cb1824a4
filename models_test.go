package authstate

import (
	"testing"
	"time"
)

func TestUserIsAdmin(t *testing.T) {
	cases := []struct {
		name   string
		user   *User
		expect bool
	}{
		{name: "nil user", user: nil, expect: false},
		{name: "admin role", user: &User{Role: RoleAdmin}, expect: true},
		{name: "member role", user: &User{Role: RoleMember}, expect: false},
		{name: "lowercase admin", user: &User{Role: Role("admin")}, expect: false},
		{name: "empty role", user: &User{}, expect: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.IsAdmin(); got != tc.expect {
				t.Fatalf("IsAdmin returned %t for %s, expected %t", got, tc.name, tc.expect)
			}
		})
	}
}

func TestUserFullName(t *testing.T) {
	cases := []struct {
		name   string
		user   *User
		expect string
	}{
		{name: "nil user", user: nil, expect: ""},
		{name: "both names", user: &User{FirstName: "Ada", LastName: "Lovelace"}, expect: "Ada Lovelace"},
		{name: "first only", user: &User{FirstName: "Ada"}, expect: "Ada"},
		{name: "last only", user: &User{LastName: "Lovelace"}, expect: "Lovelace"},
		{name: "padded names", user: &User{FirstName: " Ada ", LastName: " Lovelace "}, expect: "Ada Lovelace"},
		{name: "no names", user: &User{}, expect: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.FullName(); got != tc.expect {
				t.Fatalf("FullName returned %q, expected %q", got, tc.expect)
			}
		})
	}
}

func TestRoleHelpers(t *testing.T) {
	if !RoleAdmin.IsAdmin() {
		t.Fatal("RoleAdmin should report admin")
	}
	if RoleMember.IsAdmin() {
		t.Fatal("RoleMember should not report admin")
	}
	if Role("ADMIN").IsAdmin() {
		t.Fatal("role matching is exact, ADMIN should not report admin")
	}
	if !RoleAdmin.IsValid() || !RoleMember.IsValid() {
		t.Fatal("predefined roles should be valid")
	}
	if Role("superuser").IsValid() {
		t.Fatal("unknown roles should be invalid")
	}
}

func TestParseRole(t *testing.T) {
	if role, ok := ParseRole("Admin"); !ok || role != RoleAdmin {
		t.Fatalf("ParseRole(Admin) returned %q ok=%t", role, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatal("ParseRole should reject unknown roles")
	}
}

func TestSessionFactExpired(t *testing.T) {
	origin := time.UnixMilli(1_700_000_000_000)
	fact := &SessionFact{ExpiresAt: origin.Add(30 * time.Second).UnixMilli()}

	cases := []struct {
		name   string
		at     time.Time
		expect bool
	}{
		{name: "just inside the window", at: origin.Add(29999 * time.Millisecond), expect: false},
		{name: "exactly at expiry", at: origin.Add(30 * time.Second), expect: false},
		{name: "just past expiry", at: origin.Add(30001 * time.Millisecond), expect: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fact.Expired(tc.at); got != tc.expect {
				t.Fatalf("Expired returned %t at %s, expected %t", got, tc.at, tc.expect)
			}
		})
	}

	t.Run("zero expiry never expires", func(t *testing.T) {
		durable := &SessionFact{}
		if durable.Expired(origin.Add(24 * 365 * time.Hour)) {
			t.Fatal("facts without an expiry should never expire")
		}
	})

	t.Run("nil fact is expired", func(t *testing.T) {
		var missing *SessionFact
		if !missing.Expired(origin) {
			t.Fatal("a missing fact should read as expired")
		}
	})
}

func TestSessionStatusIsValid(t *testing.T) {
	for _, status := range []SessionStatus{SessionActive, SessionIdleWarning, SessionExpired} {
		if !status.IsValid() {
			t.Fatalf("status %q should be valid", status)
		}
	}
	if SessionStatus("zombie").IsValid() {
		t.Fatal("unknown statuses should be invalid")
	}
}
