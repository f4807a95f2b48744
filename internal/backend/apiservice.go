package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/faces"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
	"github.com/jo-hoe/faceswap/internal/backend/inference"
	"github.com/jo-hoe/faceswap/internal/backend/metrics"
	"github.com/jo-hoe/faceswap/internal/core"

	"github.com/labstack/echo/v4"
)

const (
	sourceImageField = "sourceImage"
	targetImageField = "targetImage"

	// ResultIDHeader carries the identifier of a generated result.
	ResultIDHeader = "X-Result-ID"

	detailSwapFailed     = "Face swap failed"
	detailProviderFailed = "Face inference provider failed"
	detailInternal       = "Internal Server Error"
	detailNotFound       = "Result not found"
	detailUndecodable    = "Uploaded image could not be decoded"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type resultRequest struct {
	ID string `param:"id" validate:"required,uuid4"`
}

type APIService struct {
	coreService *core.CoreService
	metrics     *metrics.Registry
}

func NewAPIService(coreService *core.CoreService, registry *metrics.Registry) *APIService {
	return &APIService{
		coreService: coreService,
		metrics:     registry,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api")
	api.POST("/swap-face", s.swapFaceHandler)
	api.GET("/results/:id", s.getResultHandler)
	api.DELETE("/results/:id", s.deleteResultHandler)
}

func (s *APIService) swapFaceHandler(c echo.Context) error {
	source, err := openPart(c, sourceImageField)
	if err != nil {
		return err
	}
	defer source.Close()
	target, err := openPart(c, targetImageField)
	if err != nil {
		return err
	}
	defer target.Close()

	result, err := s.coreService.SwapFaces(c.Request().Context(),
		core.Upload{Filename: source.filename, Content: source},
		core.Upload{Filename: target.filename, Content: target})
	if err != nil {
		return swapError(err)
	}

	c.Response().Header().Set(ResultIDHeader, result.Record.ID)
	return c.Blob(http.StatusOK, "image/jpeg", result.Image)
}

func (s *APIService) getResultHandler(c echo.Context) error {
	request, err := bindResultRequest(c)
	if err != nil {
		return err
	}
	record, err := s.coreService.GetResult(c.Request().Context(), request.ID)
	if err != nil {
		return resultError(err)
	}
	c.Response().Header().Set(ResultIDHeader, record.ID)
	return c.File(record.ResultPath)
}

func (s *APIService) deleteResultHandler(c echo.Context) error {
	request, err := bindResultRequest(c)
	if err != nil {
		return err
	}
	if err := s.coreService.DeleteResult(c.Request().Context(), request.ID); err != nil {
		return resultError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func bindResultRequest(c echo.Context) (*resultRequest, error) {
	request := new(resultRequest)
	if err := c.Bind(request); err != nil {
		return nil, err
	}
	if err := c.Validate(request); err != nil {
		return nil, err
	}
	return request, nil
}

type part struct {
	multipart.File
	filename string
}

func openPart(c echo.Context, field string) (*part, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("missing multipart part %q", field))
	}
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open part %s: %w", field, err)
	}
	return &part{File: file, filename: header.Filename}, nil
}

func swapError(err error) error {
	switch {
	case errors.Is(err, faces.ErrNoFaceDetected):
		return echo.NewHTTPError(http.StatusInternalServerError, detailSwapFailed).SetInternal(err)
	case errors.Is(err, imageio.ErrDecodeFailure):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, detailUndecodable).SetInternal(err)
	case errors.Is(err, inference.ErrProvider):
		slog.Error("api: inference provider failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, detailProviderFailed).SetInternal(err)
	default:
		slog.Error("api: face swap failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, detailInternal).SetInternal(err)
	}
}

func resultError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, detailNotFound)
	}
	slog.Error("api: result lookup failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, detailInternal).SetInternal(err)
}

// HTTPErrorHandler renders errors as {"detail": ...}.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := detailInternal
	var httpError *echo.HTTPError
	if errors.As(err, &httpError) {
		code = httpError.Code
		detail = fmt.Sprint(httpError.Message)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Detail: detail})
	}
	if err != nil {
		slog.Error("api: failed to write error response", "error", err)
	}
}
