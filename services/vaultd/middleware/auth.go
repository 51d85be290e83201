package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"yieldvault/native/vault"
	"yieldvault/observability/logging"
)

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	RolesClaim string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Actor common.Address
	Roles vault.Role
}

type contextKey string

const contextKeyPrincipal contextKey = "vaultd.principal"

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok
}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// Authenticator validates HMAC signed bearer tokens. The subject claim names
// the calling address and the roles claim lists vault role names.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Middleware rejects requests without a valid token, and with required set,
// tokens that do not carry every required role.
func (a *Authenticator) Middleware(required vault.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			principal, err := a.Authenticate(tokenString)
			if err != nil {
				slog.Warn("vaultd: token rejected", "reason", err.Error(), logging.MaskField("token", tokenString))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if principal.Roles&required != required {
				http.Error(w, "missing role "+required.String(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// Authenticate verifies tokenString and extracts the caller.
func (a *Authenticator) Authenticate(tokenString string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return Principal{}, err
	}
	if !common.IsHexAddress(subject) {
		return Principal{}, fmt.Errorf("subject %q is not an address", subject)
	}
	roles, err := extractRoles(claims, a.cfg.RolesClaim)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Actor: common.HexToAddress(subject), Roles: roles}, nil
}

func extractRoles(claims jwt.MapClaims, claim string) (vault.Role, error) {
	raw, ok := claims[claim]
	if !ok {
		return 0, nil
	}
	var names []string
	switch v := raw.(type) {
	case string:
		names = strings.Fields(v)
	case []interface{}:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return 0, fmt.Errorf("%s claim holds a non-string entry", claim)
			}
			names = append(names, s)
		}
	default:
		return 0, fmt.Errorf("%s claim has unsupported type %T", claim, raw)
	}
	var roles vault.Role
	for _, name := range names {
		role, err := vault.ParseRole(name)
		if err != nil {
			return 0, err
		}
		roles |= role
	}
	return roles, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
