package tenant

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

// KioskClaims are the claims of a station-locked kiosk token.
type KioskClaims struct {
	StationID string `json:"station_id"`
	jwt.RegisteredClaims
}

// JWTTokens resolves HS256 kiosk tokens. Successful lookups are cached until
// the cache TTL or the token's expiry, whichever comes first.
type JWTTokens struct {
	secret   []byte
	cache    *cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewJWTTokens creates a resolver for tokens signed with secret.
func NewJWTTokens(secret []byte, cacheTTL time.Duration) *JWTTokens {
	return &JWTTokens{
		secret:   secret,
		cache:    cache.New(cacheTTL, 2*cacheTTL),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// ResolveStationFromToken implements TokenResolver.
func (j *JWTTokens) ResolveStationFromToken(token string) (string, error) {
	if stationID, ok := j.cache.Get(token); ok {
		return stationID.(string), nil
	}
	claims, err := ParseKioskToken(token, j.secret)
	if err != nil {
		return "", err
	}

	ttl := j.cacheTTL
	if claims.ExpiresAt != nil {
		left := claims.ExpiresAt.Sub(j.now())
		if left <= 0 {
			return "", errors.New("tenant: token expired")
		}
		if left < ttl {
			ttl = left
		}
	}
	j.cache.Set(token, claims.StationID, ttl)
	return claims.StationID, nil
}

// ParseKioskToken validates a kiosk JWT and returns its claims.
func ParseKioskToken(tokenString string, secret []byte) (*KioskClaims, error) {
	if tokenString == "" {
		return nil, errors.New("tenant: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("tenant: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &KioskClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("tenant: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("tenant: invalid token")
	}
	if claims.StationID == "" {
		return nil, errors.New("tenant: missing station_id")
	}
	return claims, nil
}

// SignKioskToken issues a kiosk token locked to stationID. ttl <= 0 means no expiry.
func SignKioskToken(secret []byte, stationID string, ttl time.Duration) (string, error) {
	claims := KioskClaims{StationID: stationID}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
