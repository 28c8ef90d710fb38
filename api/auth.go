package api

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultTokenTTL     = 24 * time.Hour

	envLocalAuthSecret = "LOCAL_AUTH_SECRET"
	envTokenTTL        = "AUTH_TOKEN_TTL"
	envJWKSCacheTTL    = "JWKS_CACHE_TTL"
)

// Auth validates incoming JWT tokens and, in local mode, issues them.
//
// Local mode signs and verifies HS256 tokens with a shared secret; it is the
// mode the signup/signin endpoints require. When a JWKS is configured
// instead, tokens are RS256-validated against the hosted identity provider
// and issuance is disabled.
type Auth struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	LocalMode   bool
	LocalSecret []byte
	TokenTTL    time.Duration

	revoker     Revoker
	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. Passing a nil JWKS selects local mode,
// which requires LOCAL_AUTH_SECRET.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	a.keyCacheTTL = parseEnvTTL(envJWKSCacheTTL, defaultJWKSCacheTTL)
	a.TokenTTL = parseEnvTTL(envTokenTTL, defaultTokenTTL)

	if jwks == nil {
		secret := os.Getenv(envLocalAuthSecret)
		if secret == "" {
			panic("LOCAL_AUTH_SECRET must be set when no JWKS is configured")
		}
		a.LocalMode = true
		a.LocalSecret = []byte(secret)
	}

	if a.LocalMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// WithRevoker enables revocation checks against the given tracker.
func (a *Auth) WithRevoker(r Revoker) *Auth {
	a.revoker = r
	return a
}

func parseEnvTTL(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		panic("invalid " + name)
	}
	return parsed
}

// Issue creates a signed token for the given identity. Only available in
// local mode; a hosted identity provider issues its own tokens.
func (a *Auth) Issue(userID string) (string, time.Time, error) {
	if !a.LocalMode {
		return "", time.Time{}, errors.New("token issuance requires local auth mode")
	}
	if userID == "" {
		return "", time.Time{}, errors.New("missing user id")
	}
	now := time.Now()
	expiresAt := now.Add(a.TokenTTL)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.LocalSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(ctx context.Context, h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.userIDFromBearer(ctx, token)
}

// RevokeAuthHeader validates the presented token and records it as revoked
// until its natural expiry.
func (a *Auth) RevokeAuthHeader(ctx context.Context, h string) error {
	if a.revoker == nil {
		return errors.New("revocation not configured")
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return err
	}
	claims, err := a.verify(readOnlyString(token))
	if err != nil {
		return err
	}
	exp := time.Now().Add(a.TokenTTL)
	if raw, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(raw), 0)
	}
	return a.revoker.Revoke(ctx, string(token), exp)
}

func (a *Auth) userIDFromBearer(ctx context.Context, token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	claims, err := a.verify(tokenStr)
	if err != nil {
		return "", err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}

	if a.revoker != nil {
		revoked, err := a.revoker.IsRevoked(ctx, tokenStr)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", errTokenRevoked
		}
	}

	return sub, nil
}

func (a *Auth) verify(tokenStr string) (jwt.MapClaims, error) {
	var parsedToken *jwt.Token
	var err error
	if a.LocalMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.LocalSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return nil, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return nil, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return nil, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// normalizeAuthError keeps credential failures to a single human-readable
// string regardless of which validation step tripped.
func normalizeAuthError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(msg, "signature is invalid") {
		return "invalid token signature"
	}
	return msg
}
