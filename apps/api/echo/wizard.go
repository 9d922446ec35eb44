package echoapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/admission"
	"github.com/trezcool/enrol/core/class"
	"github.com/trezcool/enrol/core/docarray"
	"github.com/trezcool/enrol/core/enquiry"
	"github.com/trezcool/enrol/core/student"
	"github.com/trezcool/enrol/core/user"
	"github.com/trezcool/enrol/core/wizard"
	"github.com/trezcool/enrol/storage/files"
)

const (
	contextSessionKey = "session"

	kindAdmission = "admission"
	kindEnquiry   = "enquiry"
	kindStudent   = "student"
	kindClass     = "class"
)

// adminKinds may only be started by school administrators.
var adminKinds = map[string]bool{kindStudent: true, kindClass: true}

var errSessionNotInCtx = errors.New("session not found in echo.Context")

// wizardFactory starts a wizard of one kind on behalf of actor.
type wizardFactory func(actor user.User) (*wizard.Wizard, error)

type wizardApi struct {
	opts      *Options
	sessions  *sessions
	factories map[string]wizardFactory
}

func registerWizardAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options, sessions *sessions) {
	api := wizardApi{
		opts:     opts,
		sessions: sessions,
		factories: map[string]wizardFactory{
			kindAdmission: func(actor user.User) (*wizard.Wizard, error) {
				return admission.NewWizard(opts.Validate, opts.Translator, opts.Store, actor, opts.Logger)
			},
			kindEnquiry: func(actor user.User) (*wizard.Wizard, error) {
				return enquiry.NewWizard(opts.Validate, opts.Translator, opts.Store, actor, opts.Logger)
			},
			kindStudent: func(actor user.User) (*wizard.Wizard, error) {
				return student.NewWizard(opts.Validate, opts.Translator, opts.Store, actor, opts.Logger)
			},
			kindClass: func(actor user.User) (*wizard.Wizard, error) {
				return class.NewWizard(opts.Validate, opts.Translator, opts.Store, actor, opts.Logger)
			},
		},
	}
	staff := rolesMiddleware(user.RoleAdmin, user.RoleTeacher)

	g.POST("/wizards/:kind", api.create, jwt, staff)

	sg := g.Group("/sessions/:id", jwt, api.sessionMiddleware)
	sg.GET("", api.retrieve)
	sg.DELETE("", api.destroy)
	sg.PATCH("/fields", api.setFields)
	sg.POST("/next", api.next)
	sg.POST("/previous", api.previous)
	sg.POST("/jump", api.jump)
	sg.POST("/submit", api.submit)
	sg.POST("/dismiss", api.dismiss)
	sg.POST("/reset", api.reset)

	dg := sg.Group("/documents/:field")
	dg.POST("", api.appendDocument)
	dg.DELETE("/:index", api.removeDocument)
	dg.PATCH("/:index", api.setDocumentField)
	dg.POST("/:index/upload", api.upload)
}

func (api *wizardApi) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context actor")
		}
		sess, err := api.sessions.get(ctx.Param("id"), actor.ID)
		if err != nil {
			return err
		}
		ctx.Set(contextSessionKey, sess)
		return next(ctx)
	}
}

func contextSession(ctx echo.Context) (*session, error) {
	sess, ok := ctx.Get(contextSessionKey).(*session)
	if !ok {
		return nil, errors.Wrap(errSessionNotInCtx, "retrieving session from context")
	}
	return sess, nil
}

// Handlers

func (api *wizardApi) create(ctx echo.Context) error {
	kind := ctx.Param("kind")
	factory, ok := api.factories[kind]
	if !ok {
		return errHttpNotFound
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	if adminKinds[kind] && !actor.IsAdmin() {
		return errHttpForbidden
	}
	w, err := factory(actor)
	if err != nil {
		return errors.Wrapf(err, "starting %s wizard", kind)
	}
	sess := api.sessions.add(kind, actor.ID, w, nil)
	return ctx.JSON(http.StatusCreated, sess.response())
}

func (api *wizardApi) retrieve(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *wizardApi) destroy(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if sess.wizard.State().InFlight {
		return wizard.ErrSubmitInFlight
	}
	api.sessions.remove(sess.id)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *wizardApi) setFields(ctx echo.Context) error {
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

// setFields applies the changes in field name order.
func setFields(w *wizard.Wizard, fields map[string]interface{}) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.SetField(name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}

func (api *wizardApi) next(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if sess.wizard.State().Submitted {
		return wizard.ErrAlreadySubmitted
	}
	return ctx.JSON(http.StatusOK, sess.response(sess.wizard.Next()))
}

func (api *wizardApi) previous(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if sess.wizard.State().Submitted {
		return wizard.ErrAlreadySubmitted
	}
	return ctx.JSON(http.StatusOK, sess.response(sess.wizard.Previous()))
}

func (api *wizardApi) jump(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	var data JumpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JumpRequest")
	}
	if sess.wizard.State().Submitted {
		return wizard.ErrAlreadySubmitted
	}
	return ctx.JSON(http.StatusOK, sess.response(sess.wizard.JumpTo(data.Step)))
}

func (api *wizardApi) submit(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if _, err := sess.wizard.Submit(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess.response())
}

func (api *wizardApi) dismiss(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.wizard.Dispatch(wizard.DismissNotice{}); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *wizardApi) reset(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	if err := sess.wizard.Dispatch(wizard.Reset{}); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *wizardApi) appendDocument(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	var entry docarray.Entry
	if err := ctx.Bind(&entry); err != nil {
		return errors.Wrap(err, "binding to docarray.Entry")
	}
	if err := sess.wizard.Dispatch(wizard.AppendDocument{Field: ctx.Param("field"), Entry: entry}); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *wizardApi) removeDocument(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	index, err := indexParam(ctx)
	if err != nil {
		return err
	}
	if err := sess.wizard.Dispatch(wizard.RemoveDocument{Field: ctx.Param("field"), Index: index}); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

func (api *wizardApi) setDocumentField(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	index, err := indexParam(ctx)
	if err != nil {
		return err
	}
	var data SetDocumentFieldRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetDocumentFieldRequest")
	}
	act := wizard.SetDocumentField{Field: ctx.Param("field"), Index: index, Key: data.Key, Value: data.Value}
	if err := sess.wizard.Dispatch(act); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

// upload stores the "file" part of a multipart form and sets the entry url.
// An optional "name" part sets the document type of the entry.
func (api *wizardApi) upload(ctx echo.Context) error {
	sess, err := contextSession(ctx)
	if err != nil {
		return err
	}
	field := ctx.Param("field")
	index, err := indexParam(ctx)
	if err != nil {
		return err
	}
	if err := checkDocumentIndex(sess.wizard, field, index); err != nil {
		return err
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: core.RequiredText})
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer src.Close()

	id := sess.id + "-" + field + "-" + strconv.Itoa(index) + "-" + fh.Filename
	url, err := api.opts.Uploader.Upload(ctx.Request().Context(), id, fh.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		if errors.Cause(err) == files.ErrEmptyID {
			return core.NewValidationError(nil, core.FieldError{Field: "file", Error: err.Error()})
		}
		return errors.Wrap(err, "uploading document")
	}

	if name := ctx.FormValue("name"); name != "" {
		if err := sess.wizard.Dispatch(wizard.SetDocumentField{Field: field, Index: index, Key: docarray.FieldName, Value: name}); err != nil {
			return err
		}
	}
	if err := sess.wizard.Dispatch(wizard.SetDocumentField{Field: field, Index: index, Key: docarray.FieldURL, Value: url}); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.response())
}

// checkDocumentIndex fails like SetDocumentField would, before anything gets uploaded.
func checkDocumentIndex(w *wizard.Wizard, field string, index int) error {
	schema := w.Schema()
	if !schema.IsArray(field) {
		return errors.Wrapf(wizard.ErrNotArray, "%q", field)
	}
	var n int
	if list, ok := w.State().Record[field].(*docarray.List); ok && list != nil {
		n = list.Len()
	}
	if index < 0 || index >= n {
		return errors.Wrapf(docarray.ErrIndexOutOfRange, "index %d (len %d)", index, n)
	}
	return nil
}

func indexParam(ctx echo.Context) (int, error) {
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return 0, core.NewValidationError(nil, core.FieldError{Field: "index", Error: "must be a number"})
	}
	return index, nil
}

type (
	SetFieldsRequest struct {
		Fields map[string]interface{} `json:"fields"`
	}

	JumpRequest struct {
		Step int `json:"step"`
	}

	SetDocumentFieldRequest struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
)
