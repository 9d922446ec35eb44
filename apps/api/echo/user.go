package echoapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
)

type userApi struct {
	store    submission.StoreReader
	validate *validator.Validate
	auth     *Auth
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options, auth *Auth) {
	api := userApi{store: opts.Store, validate: opts.Validate, auth: auth}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", api.login)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.GET("/me", api.me)
	ag.POST("/token-refresh", api.refreshToken)
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := findUserByEmail(ctx.Request().Context(), api.store, data.Email)
	if err != nil {
		if errors.Cause(err) == submission.ErrNotFound {
			return errAuthenticationFailed
		}
		return errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(data.Password); err != nil {
		return errAuthenticationFailed
	}

	token, err := api.auth.GenerateToken(api.auth.GetUserClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if api.auth.refreshExpired(claims) {
		return errRefreshExpired
	}

	// the school may have been linked since the token was issued
	doc, err := api.store.Get(ctx.Request().Context(), onboarding.UsersCollection, claims.Subject)
	if err != nil {
		if errors.Cause(err) == submission.ErrNotFound {
			return errUnauthorized
		}
		return errors.Wrap(err, "finding user by ID")
	}

	token, err := api.auth.GenerateToken(api.auth.GetUserClaims(onboarding.UserFromDocument(doc), claims.OrigIssuedAt))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func findUserByEmail(ctx context.Context, reader submission.Reader, email string) (user.User, error) {
	docs, err := reader.List(ctx, onboarding.UsersCollection)
	if err != nil {
		return user.User{}, errors.Wrap(err, "listing users")
	}
	for _, doc := range docs {
		if strings.EqualFold(doc.String("email"), email) {
			return onboarding.UserFromDocument(doc), nil
		}
	}
	return user.User{}, submission.ErrNotFound
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}
