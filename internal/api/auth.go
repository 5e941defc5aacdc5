package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"

	"github.com/robofit/arcor2-sub003/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

type credential struct {
	role Role
	user string
	pass string
}

// Auth checks basic auth credentials against the admin and operator
// roles. A nil *Auth or one without admin credentials allows every
// request as admin.
type Auth struct {
	creds []credential
}

// NewAuth returns credentials for the admin and operator roles. Auth is
// enabled only if the admin pair is set; an incomplete operator pair is
// ignored.
func NewAuth(adminUser, adminPass, operatorUser, operatorPass string) *Auth {
	a := &Auth{}
	if adminUser == "" || adminPass == "" {
		return a
	}
	a.creds = append(a.creds, credential{RoleAdmin, adminUser, adminPass})
	if operatorUser != "" && operatorPass != "" {
		a.creds = append(a.creds, credential{RoleOperator, operatorUser, operatorPass})
	}
	return a
}

// LoadAuth reads ARCOR2_ADMIN_USER/PASS and ARCOR2_OPERATOR_USER/PASS,
// honoring the *_FILE convention. If none are set, authentication is
// disabled.
func LoadAuth() (*Auth, error) {
	adminUser, adminPass, err := config.ResolveCredentials("ARCOR2_ADMIN_USER", "ARCOR2_ADMIN_PASS")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve admin credentials: %w", err)
	}
	operatorUser, operatorPass, err := config.ResolveCredentials("ARCOR2_OPERATOR_USER", "ARCOR2_OPERATOR_PASS")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve operator credentials: %w", err)
	}
	return NewAuth(adminUser, adminPass, operatorUser, operatorPass), nil
}

// Enabled reports whether credentials are required.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.creds) > 0
}

// authenticate returns the role of the request, or "" for bad or missing
// credentials.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	for _, c := range a.creds {
		// Both comparisons run so timing does not reveal which one failed.
		userOK := secureCompare(user, c.user)
		passOK := secureCompare(pass, c.pass)
		if userOK && passOK {
			return c.role
		}
	}
	return ""
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="ARCOR2 execution"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func (a *Auth) RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := a.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}
		if !slices.Contains(allowedRoles, role) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		handler(w, r)
	}
}

// RequireAnyRole wraps a handler requiring admin OR operator role.
func (a *Auth) RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin wraps a handler requiring admin role only.
func (a *Auth) RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin)
}
