package tokens

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/routeguard/middleware"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrKeyNotFound is returned when no JWKS key matches the token kid
	ErrKeyNotFound = errors.New("signing key not found")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Config holds configuration for Validator
type Config struct {
	JWKSURL     string
	Issuer      string
	Audience    string
	RolesClaim  string // dotted path, e.g. "groups" or "realm_access.roles"
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
	// MinRefreshInterval bounds how often an unknown kid may force a JWKS
	// refetch (default 1 minute)
	MinRefreshInterval time.Duration
}

// Validator verifies RS256 bearer tokens against a JWKS endpoint
type Validator struct {
	config     Config
	httpClient *http.Client
	parser     *jwt.Parser

	jwksCache    *JWKS
	jwksCacheExp time.Time
	cacheMu      sync.RWMutex

	keyCache   map[string]*rsa.PublicKey
	keyCacheMu sync.RWMutex

	refreshMu   sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewValidator creates a new JWKS token validator
func NewValidator(config Config) *Validator {
	if config.CacheTTL == 0 {
		config.CacheTTL = 1 * time.Hour
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.RolesClaim == "" {
		config.RolesClaim = "groups"
	}
	if config.MinRefreshInterval == 0 {
		config.MinRefreshInterval = time.Minute
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &Validator{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		parser:     jwt.NewParser(opts...),
		keyCache:   make(map[string]*rsa.PublicKey),
		now:        time.Now,
	}
}

// ValidateToken verifies the signature and registered claims of a token and
// returns the caller's claims
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid header not found")
		}
		return v.getPublicKey(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	roles, err := rolesFromClaims(claims, v.config.RolesClaim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	parsed := &middleware.Claims{
		Sub:   sub,
		Roles: roles,
	}
	if email, ok := claims["email"].(string); ok {
		parsed.Email = email
	}
	if iss, err := claims.GetIssuer(); err == nil {
		parsed.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil {
		parsed.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		parsed.ExpiresAt = exp.Unix()
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		parsed.IssuedAt = iat.Unix()
	}

	return parsed, nil
}

// rolesFromClaims reads the roles at path. A missing claim means no roles. The
// claim may be a list of strings or a single space separated string.
func rolesFromClaims(claims jwt.MapClaims, path string) ([]string, error) {
	var value interface{} = map[string]interface{}(claims)
	for _, part := range strings.Split(path, ".") {
		obj, ok := value.(map[string]interface{})
		if !ok {
			return []string{}, nil
		}
		value, ok = obj[part]
		if !ok {
			return []string{}, nil
		}
	}

	switch roles := value.(type) {
	case nil:
		return []string{}, nil
	case string:
		return strings.Fields(roles), nil
	case []interface{}:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			role, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("claim %s contains a non-string role", path)
			}
			out = append(out, role)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("claim %s has unsupported type %T", path, value)
	}
}

// FetchJWKS fetches the JWKS, serving it from cache while fresh
func (v *Validator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && time.Now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	return v.fetchRemoteJWKS(ctx)
}

// fetchRemoteJWKS downloads the key set and replaces the cached copy
func (v *Validator) fetchRemoteJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = time.Now().Add(v.config.CacheTTL)
	v.cacheMu.Unlock()

	return &jwks, nil
}

// getPublicKey retrieves the public key for a given kid. An unknown kid
// forces a JWKS refresh to pick up rotated keys, at most once per
// MinRefreshInterval.
func (v *Validator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.keyCacheMu.RLock()
	if key, exists := v.keyCache[kid]; exists {
		v.keyCacheMu.RUnlock()
		return key, nil
	}
	v.keyCacheMu.RUnlock()

	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	jwk := findKey(jwks, kid)
	if jwk == nil {
		if jwks, err = v.refreshForUnknownKid(ctx, jwks); err != nil {
			return nil, err
		}
		if jwk = findKey(jwks, kid); jwk == nil {
			return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
		}
	}

	publicKey, err := jwkToRSAPublicKey(jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
	}

	v.keyCacheMu.Lock()
	v.keyCache[kid] = publicKey
	v.keyCacheMu.Unlock()

	return publicKey, nil
}

// refreshForUnknownKid refetches the key set unless a refresh happened within
// MinRefreshInterval, in which case current is returned unchanged. Parsed
// keys stay cached.
func (v *Validator) refreshForUnknownKid(ctx context.Context, current *JWKS) (*JWKS, error) {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	now := v.now()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < v.config.MinRefreshInterval {
		return current, nil
	}
	v.lastRefresh = now

	return v.fetchRemoteJWKS(ctx)
}

func findKey(jwks *JWKS, kid string) *JWK {
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid && jwks.Keys[i].Kty == "RSA" {
			return &jwks.Keys[i]
		}
	}
	return nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// CacheStats describes the cached key set
type CacheStats struct {
	JWKSCached    bool      `json:"jwks_cached"`
	JWKSExpiresAt time.Time `json:"jwks_expires_at"`
	JWKSKeys      int       `json:"jwks_keys"`
	CachedKeys    int       `json:"cached_keys"`
	LastRefresh   time.Time `json:"last_forced_refresh"`
}

// GetCacheStats returns cache statistics
func (v *Validator) GetCacheStats() CacheStats {
	v.cacheMu.RLock()
	stats := CacheStats{
		JWKSCached:    v.jwksCache != nil,
		JWKSExpiresAt: v.jwksCacheExp,
	}
	if v.jwksCache != nil {
		stats.JWKSKeys = len(v.jwksCache.Keys)
	}
	v.cacheMu.RUnlock()

	v.keyCacheMu.RLock()
	stats.CachedKeys = len(v.keyCache)
	v.keyCacheMu.RUnlock()

	v.refreshMu.Lock()
	stats.LastRefresh = v.lastRefresh
	v.refreshMu.Unlock()

	return stats
}
