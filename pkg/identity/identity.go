// Package identity turns a bearer token into the user a connection acts as.
//
// Resolution never fails: any problem with the token or the user collapses to
// Anonymous. Callers that need the reason use Verify instead.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"roomchat/models"
	"roomchat/pkg/cache"
	tokenstore "roomchat/pkg/token"
)

var (
	ErrMissingToken   = errors.New("identity: missing token")
	ErrInvalidToken   = errors.New("identity: invalid token")
	ErrRevokedToken   = errors.New("identity: token has been revoked")
	ErrMissingSubject = errors.New("identity: token has no user id")
	ErrUnknownUser    = errors.New("identity: user not found")
)

// Identity is either Verified(userID, name) or Anonymous. It is decided once
// per connection and never changes.
type Identity struct {
	userID string
	name   string
	jti    string
	exp    time.Time
}

// Anonymous is the identity of a connection whose credential did not verify.
var Anonymous = Identity{}

// Verified builds a verified identity.
func Verified(userID, name string) Identity {
	return Identity{userID: userID, name: name}
}

func (i Identity) IsAnonymous() bool { return i.userID == "" }

// UserID returns the user id and true for verified identities.
func (i Identity) UserID() (string, bool) { return i.userID, i.userID != "" }

func (i Identity) Name() string { return i.name }

// TokenID is the jti of the token the identity was resolved from, if any.
func (i Identity) TokenID() string { return i.jti }

// ExpiresAt is the expiry of the token the identity was resolved from, if any.
func (i Identity) ExpiresAt() time.Time { return i.exp }

func (i Identity) String() string {
	if i.IsAnonymous() {
		return "anonymous"
	}
	return i.userID
}

// UserLookup resolves a user id to a display name.
type UserLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// GormUsers looks users up in the users table.
type GormUsers struct {
	DB *gorm.DB
}

func (g GormUsers) DisplayName(ctx context.Context, userID string) (string, error) {
	var u models.User
	err := g.DB.WithContext(ctx).Select("id", "name").Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// Resolver verifies HS256 tokens and looks up the user they name.
type Resolver struct {
	secret  []byte
	users   UserLookup
	revoked *tokenstore.Store
	names   *cache.Cache[string]
	ttl     time.Duration
}

// NewResolver builds a resolver. names may be nil to disable display-name caching.
func NewResolver(secret string, users UserLookup, revoked *tokenstore.Store, names *cache.Cache[string], nameTTL time.Duration) *Resolver {
	return &Resolver{
		secret:  []byte(secret),
		users:   users,
		revoked: revoked,
		names:   names,
		ttl:     nameTTL,
	}
}

// Resolve returns the verified identity for token, or Anonymous.
func (r *Resolver) Resolve(ctx context.Context, token string) Identity {
	id, err := r.Verify(ctx, token)
	if err != nil {
		return Anonymous
	}
	return id
}

// Verify is Resolve with the failure reason.
func (r *Resolver) Verify(ctx context.Context, tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Anonymous, ErrMissingToken
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Anonymous, ErrInvalidToken
	}

	jti, _ := claims["jti"].(string)
	if r.revoked.IsRevoked(jti) {
		return Anonymous, ErrRevokedToken
	}

	userID := subject(claims)
	if userID == "" {
		return Anonymous, ErrMissingSubject
	}

	name, err := r.displayName(ctx, userID)
	if err != nil {
		return Anonymous, err
	}

	id := Verified(userID, name)
	id.jti = jti
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.exp = exp.Time
	}
	return id, nil
}

func (r *Resolver) displayName(ctx context.Context, userID string) (string, error) {
	if name, ok := r.names.Get(userID); ok {
		return name, nil
	}
	name, err := r.users.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	r.names.Set(userID, name, r.ttl)
	return name, nil
}

// subject reads user_id first, then sub. Numeric claims decode as float64.
func subject(claims jwt.MapClaims) string {
	for _, key := range []string{"user_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// Issuer signs access tokens understood by Resolver.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for userID along with its jti and expiry.
func (is *Issuer) Issue(userID string) (token, jti string, exp time.Time, err error) {
	jti = uuid.NewString()
	exp = is.now().Add(is.ttl)
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     userID,
		"jti":     jti,
		"exp":     exp.Unix(),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(is.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return token, jti, exp, nil
}
