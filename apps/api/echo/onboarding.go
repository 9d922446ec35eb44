package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core/onboarding"
)

const kindOnboarding = "onboarding"

type onboardingApi struct {
	opts     *Options
	sessions *sessions
	auth     *Auth
}

// Signup sessions are not authenticated: their random id is the only credential.
func registerOnboardingAPI(g *echo.Group, opts *Options, sessions *sessions, auth *Auth) {
	api := onboardingApi{opts: opts, sessions: sessions, auth: auth}

	og := g.Group("/onboarding")
	og.POST("", api.create)

	sg := og.Group("/:id", api.sessionMiddleware)
	sg.GET("", api.retrieve)
	sg.PATCH("/fields", api.setFields)
	sg.POST("/code", api.sendCode)
	sg.POST("/next", api.next)
	sg.POST("/previous", api.previous)
	sg.POST("/jump", api.jump)
	sg.POST("/submit", api.submit)
}

func (api *onboardingApi) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		sess, err := api.sessions.get(ctx.Param("id"), "")
		if err != nil {
			return err
		}
		if sess.flow == nil {
			return errSessionNotFound
		}
		ctx.Set(contextSessionKey, sess)
		return next(ctx)
	}
}

// Handlers

func (api *onboardingApi) create(ctx echo.Context) error {
	f, err := onboarding.NewFlow(api.opts.Validate, api.opts.Translator, api.opts.Store, api.opts.Codes, api.opts.Logger)
	if err != nil {
		return errors.Wrap(err, "starting onboarding")
	}
	sess := api.sessions.add(kindOnboarding, "", f.Wizard, f)
	return ctx.JSON(http.StatusCreated, sess.response())
}

func (api *onboardingApi) retrieve(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *onboardingApi) setFields(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	var data SetFieldsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetFieldsRequest")
	}
	if err := setFields(sess.wizard, data.Fields); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *onboardingApi) sendCode(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.flow.SendCode(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *onboardingApi) next(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	moved, err := sess.flow.Next(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response(moved))
}

func (api *onboardingApi) previous(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response(sess.flow.Previous()))
}

// jump goes through Next when moving one step forward, so the otp step cannot be skipped.
func (api *onboardingApi) jump(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	var data JumpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JumpRequest")
	}

	var moved bool
	if data.Step == sess.flow.State().Step+1 {
		if moved, err = sess.flow.Next(ctx.Request().Context()); err != nil {
			return err
		}
	} else {
		moved = sess.flow.JumpTo(data.Step)
	}
	return ctx.JSON(http.StatusOK, sess.response(moved))
}

// submit creates the account and its school, and logs the new administrator in.
func (api *onboardingApi) submit(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	id, err := sess.flow.Submit(ctx.Request().Context())
	if err != nil {
		return err
	}

	doc, err := api.opts.Store.Get(ctx.Request().Context(), onboarding.UsersCollection, id)
	if err != nil {
		return errors.Wrap(err, "finding new user")
	}
	token, err := api.auth.GenerateToken(api.auth.GetUserClaims(onboarding.UserFromDocument(doc)))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	api.sessions.remove(sess.id)

	return ctx.JSON(http.StatusCreated, onboardingResponse{sessionResponse: sess.response(), Token: token})
}

type onboardingResponse struct {
	sessionResponse
	Token string `json:"token"`
}
