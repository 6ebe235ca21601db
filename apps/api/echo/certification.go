package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
)

type certificationApi struct {
	usrSvc   user.ServiceInterface
	svc      certification.ServiceInterface
	validate *validator.Validate
}

func registerCertificationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	usrSvc user.ServiceInterface,
	svc certification.ServiceInterface,
	validate *validator.Validate,
) {
	api := certificationApi{
		usrSvc:   usrSvc,
		svc:      svc,
		validate: validate,
	}
	active := activeUserMiddleware(usrSvc)

	cg := g.Group("/certifications", jwt, active)
	cg.GET("", api.queryTypes)
	cg.GET("/:id", api.retrieveType)
	cg.POST("/start", api.start)

	pg := g.Group("/certification-progress", jwt, active)
	pg.GET("", api.queryProgress)
	pg.GET("/:id", api.retrieveProgress)
	pg.PATCH("/:id", api.updateDetails)
	pg.POST("/:id/update-stage", api.updateStage)
	pg.POST("/:id/advance", api.advance)

	ig := g.Group("/user-certifications", jwt, active)
	ig.GET("", api.queryIssued)
	ig.POST("", api.issue, adminMiddleware())
}

// owner returns the context user as the owner of the progress records handled.
func (api *certificationApi) owner(ctx echo.Context) (certification.Owner, error) {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return certification.Owner{}, errors.Wrap(err, "getting context user")
	}
	return certification.Owner{UserID: usr.ID, OrganizationID: usr.OrganizationID}, nil
}

// Handlers

func (api *certificationApi) queryTypes(ctx echo.Context) error {
	filter := new(certification.TypeFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []certification.Type{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, certification.TypeOrderingFields)

	types, err := api.svc.ListTypes(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying certification types")
	}
	if types == nil {
		types = []certification.Type{}
	}
	return ctx.JSON(http.StatusOK, types)
}

func (api *certificationApi) retrieveType(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errHttpNotFound
	}

	ct, err := api.svc.GetType(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "getting certification type")
	}
	return ctx.JSON(http.StatusOK, ct)
}

func (api *certificationApi) start(ctx echo.Context) error {
	var data certification.StartProcess
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartProcess")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.StartProcess(ctx.Request().Context(), owner, data.CertificationTypeID)
	if err != nil {
		return errors.Wrap(err, "starting certification process")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *certificationApi) queryProgress(ctx echo.Context) error {
	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}

	views, err := api.svc.ListProgress(ctx.Request().Context(), owner, certification.NowFunc())
	if err != nil {
		return errors.Wrap(err, "querying certification progress")
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *certificationApi) retrieveProgress(ctx echo.Context) error {
	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}

	v, err := api.svc.GetProgress(ctx.Request().Context(), owner, ctx.Param("id"), certification.NowFunc())
	if err != nil {
		return errors.Wrap(err, "getting certification progress")
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *certificationApi) updateDetails(ctx echo.Context) error {
	var data certification.UpdateDetails
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDetails")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.UpdateDetails(ctx.Request().Context(), owner, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating certification progress details")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *certificationApi) updateStage(ctx echo.Context) error {
	var data certification.UpdateStage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStage")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.UpdateStage(ctx.Request().Context(), owner, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating certification stage")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *certificationApi) advance(ctx echo.Context) error {
	var data certification.CompareAndAdvance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompareAndAdvance")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}
	p, err := api.svc.CompareAndAdvance(ctx.Request().Context(), owner, ctx.Param("id"), data.ExpectedStage, data.TargetStage)
	if err != nil {
		return errors.Wrap(err, "advancing certification stage")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *certificationApi) queryIssued(ctx echo.Context) error {
	owner, err := api.owner(ctx)
	if err != nil {
		return err
	}

	views, err := api.svc.ListUserCertifications(ctx.Request().Context(), owner, certification.NowFunc())
	if err != nil {
		return errors.Wrap(err, "querying user certifications")
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *certificationApi) issue(ctx echo.Context) error {
	var data certification.IssueCertificate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IssueCertificate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	uc, err := api.svc.IssueCertificate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "issuing certificate")
	}
	return ctx.JSON(http.StatusCreated, uc)
}
