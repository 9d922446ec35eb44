package echoapi

import (
	"sort"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/user"
)

const contextTokenKey = "userToken"

// NowFunc is mockable in tests.
var NowFunc = time.Now

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	SchoolID     string   `json:"school_id,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"` // -> BACK OFFICE
	Roles        []string `json:"roles,omitempty"`
}

// User returns the session actor the claims were issued for.
func (c Claims) User() user.User {
	return user.User{
		ID:       c.Subject,
		Name:     c.Name,
		Email:    c.Email,
		SchoolID: c.SchoolID,
		Roles:    append([]string(nil), c.Roles...),
	}
}

// Auth issues and checks the JWTs of the API.
type Auth struct {
	appName       string
	key           []byte
	expiry        time.Duration
	refreshExpiry time.Duration
}

func NewAuth(conf *core.Config) *Auth {
	return &Auth{
		appName:       conf.AppName,
		key:           []byte(conf.SecretKey),
		expiry:        conf.Server.JWTExpirationDelta,
		refreshExpiry: conf.Server.JWTRefreshExpirationDelta,
	}
}

func (a *Auth) middleware() echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    a.key,
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	})
}

func (a *Auth) GetUserClaims(usr user.User, origIat ...int64) *Claims {
	now := NowFunc()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.appName,
			Subject:   usr.ID,
			Audience:  "BackOffice",
			ExpiresAt: now.Add(a.expiry).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Name:         usr.Name,
		Email:        usr.Email,
		SchoolID:     usr.SchoolID,
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func (a *Auth) GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString(a.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// refreshExpired reports whether claims are too old to be refreshed.
func (a *Auth) refreshExpired(claims Claims) bool {
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.refreshExpiry)
	return NowFunc().After(expTime)
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextActor(ctx echo.Context) (user.User, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	return claims.User(), nil
}

// hasAnyRole reports whether the claims hold any of roles; no roles means any user.
func (c Claims) hasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	held := append([]string(nil), c.Roles...)
	sort.Strings(held)
	for _, role := range roles {
		if i := sort.SearchStrings(held, role); i < len(held) && held[i] == role {
			return true
		}
	}
	return false
}
