// Package auth resolves the requesting identity from bearer tokens. The
// identity is passed explicitly into every order operation.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned when the token is missing or invalid.
	ErrUnauthenticated = errors.New("authentication credentials were not provided or are invalid")
	// ErrForbidden is returned when the identity lacks the required role.
	ErrForbidden = errors.New("you do not have permission to perform this action")
)

// Role of the requester.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
)

// Identity is the authenticated requester.
type Identity struct {
	UserID string
	Role   Role
}

// IsStaff reports whether the identity may operate on any order.
func (i Identity) IsStaff() bool { return i.Role == RoleStaff }

type identityKey struct{}

// WithIdentity stores the identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Claims are the JWT claims the service accepts. user_id may be a string or
// a number; sub is used when user_id is absent.
type Claims struct {
	UserID any    `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a Verifier for HS256/384/512 tokens signed with secret.
// A non-empty issuer is enforced.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer, now: time.Now}
}

// Verify parses the token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, errors.Wrap(ErrUnauthenticated, "parse token")
	}

	userID := userIDString(claims.UserID)
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, errors.Wrap(ErrUnauthenticated, "token has no subject")
	}

	role := RoleCustomer
	if Role(claims.Role) == RoleStaff {
		role = RoleStaff
	}
	return Identity{UserID: userID, Role: role}, nil
}

func userIDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
