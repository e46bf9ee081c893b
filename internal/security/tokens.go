package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessKeyID  = "access-v1"
	RefreshKeyID = "refresh-v1"

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID            string   `json:"userId"`
	Role              string   `json:"role"`
	SessionID         string   `json:"sessionId"`
	Permissions       []string `json:"permissions"`
	DeviceFingerprint string   `json:"deviceFingerprint"`
	IPAddress         string   `json:"ipAddress"`
	CreatedAt         int64    `json:"createdAt"`
	LastActivity      int64    `json:"lastActivity"`
	Type              string   `json:"type"`
}

// RefreshClaims holds JWT claims for the refresh token.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID            string `json:"userId"`
	SessionID         string `json:"sessionId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Type              string `json:"type"`
}

// TokenProvider issues and validates HS256 access and refresh tokens. The two
// token kinds are signed with separate secrets and key ids.
type TokenProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	nowF          func() time.Time
}

// NewTokenProvider returns a TokenProvider. issuer and audience are set on
// every token and checked on validation.
func NewTokenProvider(accessSecret, refreshSecret, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		nowF:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for iat/exp and validation. For tests.
func (p *TokenProvider) SetClock(now func() time.Time) { p.nowF = now }

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess signs an access token carrying claims. Registered claims and the
// type are filled in here; callers set the principal fields.
func (p *TokenProvider) IssueAccess(claims AccessClaims) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.accessTTL)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Subject:   claims.UserID,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	claims.Type = TokenTypeAccess
	token, err = sign(claims, AccessKeyID, p.accessSecret)
	return token, expiresAt, err
}

// IssueRefresh signs a refresh token bound to the session and device fingerprint.
func (p *TokenProvider) IssueRefresh(userID, sessionID, fingerprint string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:            userID,
		SessionID:         sessionID,
		DeviceFingerprint: fingerprint,
		Type:              TokenTypeRefresh,
	}
	token, err = sign(claims, RefreshKeyID, p.refreshSecret)
	return token, expiresAt, err
}

func sign(claims jwt.Claims, kid string, secret []byte) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = kid
	return t.SignedString(secret)
}

// ValidateAccess checks signature, algorithm, key id, iss, aud, exp, max age and type.
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims, AccessKeyID, p.accessSecret, p.accessTTL); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRefresh checks a refresh token the same way with the refresh secret.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(tokenString, claims, RefreshKeyID, p.refreshSecret, p.refreshTTL); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims, kid string, secret []byte, maxAge time.Duration) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.nowF),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, keyFunc(kid, secret))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return ErrInvalidToken
	}
	if p.nowF().Sub(iat.Time) > maxAge {
		return ErrInvalidToken
	}
	return nil
}

// VerifyAccessIgnoringExpiry checks the signature, key id, issuer, audience
// and type of an access token but none of its time claims. Logout uses it so
// an expired token can still end its own session.
func (p *TokenProvider) VerifyAccessIgnoringExpiry(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, keyFunc(AccessKeyID, p.accessSecret))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer || !slices.Contains(claims.Audience, p.audience) || claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func keyFunc(kid string, secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if k, _ := token.Header["kid"].(string); k != kid {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}
}

// Decode parses an access token without verifying it. Never use the result for authorization.
func Decode(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
