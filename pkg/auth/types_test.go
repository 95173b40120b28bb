package auth

import (
	"context"
	"testing"

	"github.com/platinummonkey/fleetauthz/pkg/contextkeys"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"super_admin", RoleSuperAdmin, false},
		{"admin", RoleAdmin, false},
		{"user", RoleUser, false},
		{"root", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUserDescriptor_Validate(t *testing.T) {
	valid := &UserDescriptor{ID: 1, Role: RoleUser, OrganizationID: 2}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid descriptor, got %v", err)
	}

	var nilUser *UserDescriptor
	if err := nilUser.Validate(); err == nil {
		t.Error("expected error for nil descriptor")
	}
	if nilUser.IsSuperAdmin() {
		t.Error("nil descriptor must not be super admin")
	}

	for _, u := range []*UserDescriptor{
		{ID: 0, Role: RoleUser, OrganizationID: 2},
		{ID: 1, Role: "guest", OrganizationID: 2},
		{ID: 1, Role: RoleUser, OrganizationID: 0},
	} {
		if err := u.Validate(); err == nil {
			t.Errorf("expected error for %+v", u)
		}
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if UserFromContext(ctx) != nil {
		t.Fatal("expected no user in empty context")
	}

	user := &UserDescriptor{ID: 9, Role: RoleSuperAdmin, OrganizationID: 1}
	ctx = WithUser(ctx, user)

	if got := UserFromContext(ctx); got != user {
		t.Errorf("UserFromContext() = %v, want %v", got, user)
	}
	if got := contextkeys.GetUserID(ctx); got != "9" {
		t.Errorf("GetUserID() = %q, want 9", got)
	}
	if !UserFromContext(ctx).IsSuperAdmin() {
		t.Error("expected super admin")
	}
}
