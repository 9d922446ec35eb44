package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core/admission"
	"github.com/trezcool/enrol/core/enquiry"
	"github.com/trezcool/enrol/core/form"
	"github.com/trezcool/enrol/core/submission"
	"github.com/trezcool/enrol/core/user"
)

const contextDocumentKey = "object"

var errDocNotFoundInCtx = errors.New("document not found in echo.Context")

type dashboardApi struct {
	opts *Options
}

// Back office endpoints over the submitted documents of the actor's school.
func registerDashboardAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := dashboardApi{opts: opts}
	staff := rolesMiddleware(user.RoleAdmin, user.RoleTeacher)

	ag := g.Group("/admissions", jwt, adminMiddleware())
	ag.GET("", api.queryAdmissions)
	ag.GET("/widgets", api.admissionWidgets)
	ag.PATCH("/:id/status", api.updateAdmissionStatus, api.documentMiddleware(admission.Collection))
	ag.PUT("/:id/review", api.reviewAdmission, api.documentMiddleware(admission.Collection))

	eg := g.Group("/enquiries", jwt, staff)
	eg.GET("", api.queryEnquiries)
	eg.GET("/stats", api.enquiryStats)

	dg := eg.Group("/:id", api.documentMiddleware(enquiry.Collection))
	dg.GET("", api.retrieve)
	dg.GET("/follow-ups", api.followUps)
	dg.POST("/follow-ups", api.addFollowUp)
	dg.POST("/convert", api.convert, adminMiddleware())
}

// documentMiddleware loads the document of collection named by the id param.
// Documents of other schools are reported as not found.
func (api *dashboardApi) documentMiddleware(collection string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := getContextActor(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context actor")
			}
			doc, err := api.opts.Store.Get(ctx.Request().Context(), collection, ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == submission.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding document by ID")
			}
			if !sameSchool(actor, doc) {
				return errHttpNotFound
			}
			ctx.Set(contextDocumentKey, doc)
			return next(ctx)
		}
	}
}

// sameSchool reports whether actor may see doc: operators see every school,
// other actors only their own one. An actor without a school sees nothing.
func sameSchool(actor user.User, doc submission.Document) bool {
	if actor.IsOperator() {
		return true
	}
	return actor.SchoolID != "" && doc.String(admission.FieldSchool) == actor.SchoolID
}

// schoolScope is the school argument of the dashboard summaries for actor.
func schoolScope(actor user.User) string {
	if actor.IsOperator() {
		return enquiry.AllSchools
	}
	return actor.SchoolID
}

func contextDocument(ctx echo.Context) (submission.Document, error) {
	doc, ok := ctx.Get(contextDocumentKey).(submission.Document)
	if !ok {
		return submission.Document{}, errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}
	return doc, nil
}

func (api *dashboardApi) schoolDocuments(ctx context.Context, actor user.User, collection string) ([]submission.Document, error) {
	docs, err := api.opts.Store.List(ctx, collection)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}
	mine := make([]submission.Document, 0, len(docs))
	for _, doc := range docs {
		if sameSchool(actor, doc) {
			mine = append(mine, doc)
		}
	}
	return mine, nil
}

// Handlers

func (api *dashboardApi) queryAdmissions(ctx echo.Context) error {
	return api.query(ctx, admission.Collection)
}

func (api *dashboardApi) queryEnquiries(ctx echo.Context) error {
	return api.query(ctx, enquiry.Collection)
}

func (api *dashboardApi) query(ctx echo.Context, collection string) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	docs, err := api.schoolDocuments(ctx.Request().Context(), actor, collection)
	if err != nil {
		return err
	}
	status := ctx.QueryParam("status")
	filtered := make([]submission.Document, 0, len(docs))
	for _, doc := range docs {
		if status == "" || doc.String(admission.FieldStatus) == status {
			filtered = append(filtered, doc)
		}
	}
	return ctx.JSON(http.StatusOK, filtered)
}

func (api *dashboardApi) retrieve(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *dashboardApi) admissionWidgets(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	docs, err := api.schoolDocuments(ctx.Request().Context(), actor, admission.Collection)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, admission.StatusWidgets(docs, NowFunc()))
}

func (api *dashboardApi) updateAdmissionStatus(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	var data StatusRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusRequest")
	}

	adapter := admission.NewAdapter(api.opts.Store, api.opts.Logger)
	updated, err := admission.UpdateStatus(ctx.Request().Context(), adapter, actor, doc.ID, data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, updated)
}

// reviewAdmission saves the edited application along with the accept or reject decision.
func (api *dashboardApi) reviewAdmission(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	var data ReviewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewRequest")
	}

	schema := admission.Schema(api.opts.Validate, api.opts.Translator)
	adapter := admission.NewAdapter(api.opts.Store, api.opts.Logger)
	updated, err := admission.Review(ctx.Request().Context(), adapter, schema, actor, doc.ID, form.Record(data.Record), data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, updated)
}

func (api *dashboardApi) enquiryStats(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	scope := schoolScope(actor)
	if scope == "" {
		return errHttpForbidden
	}
	sum, err := enquiry.Stats(ctx.Request().Context(), api.opts.Store, scope)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *dashboardApi) followUps(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	fus, err := enquiry.FollowUps(doc)
	if err != nil {
		return errors.Wrap(err, "decoding follow-ups")
	}
	if fus == nil {
		fus = []enquiry.FollowUp{}
	}
	return ctx.JSON(http.StatusOK, fus)
}

func (api *dashboardApi) addFollowUp(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	var data FollowUpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FollowUpRequest")
	}

	updated, err := enquiry.AddFollowUp(ctx.Request().Context(), api.opts.Store, actor, doc.ID, data.Notes, data.NextAction)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, updated)
}

func (api *dashboardApi) convert(ctx echo.Context) error {
	doc, err := contextDocument(ctx)
	if err != nil {
		return err
	}
	updated, err := enquiry.Convert(ctx.Request().Context(), api.opts.Store, doc.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, updated)
}

type (
	StatusRequest struct {
		Status string `json:"status"`
	}

	ReviewRequest struct {
		Status string                 `json:"status"`
		Record map[string]interface{} `json:"record"`
	}

	FollowUpRequest struct {
		Notes      string `json:"notes"`
		NextAction string `json:"next_action"`
	}
)
