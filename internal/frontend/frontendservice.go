package frontend

import (
	"embed"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/faces"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
	"github.com/jo-hoe/faceswap/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName = "index.html"
	viewsPattern = "views/*.html"
)

//go:embed views/*.html
var templateFS embed.FS

//go:embed views/icon.svg
var assetsFS embed.FS

// Template renders the embedded views.
type Template struct {
	templates *template.Template
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

type FrontendService struct {
	coreService *core.CoreService
}

func NewFrontendService(coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = &Template{
		templates: template.Must(template.New("").ParseFS(templateFS, viewsPattern)),
	}

	e.GET("/", service.rootRedirectHandler)
	e.GET("/"+MainPageName, service.indexHandler)
	e.POST("/htmx/swap", service.htmxSwapHandler)
	e.DELETE("/htmx/result/:id", service.htmxDeleteResultHandler)

	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	return ctx.Render(http.StatusOK, MainPageName, nil)
}

func (service *FrontendService) htmxSwapHandler(ctx echo.Context) error {
	uploads := make([]core.Upload, 0, 2)
	for _, field := range []string{"sourceImage", "targetImage"} {
		header, err := ctx.FormFile(field)
		if err != nil {
			slog.Warn("htmxSwapHandler: missing upload", "field", field, "error", err)
			return ctx.HTML(http.StatusOK, resultMessage(fmt.Sprintf("Please choose a %s.", field)))
		}
		file, err := header.Open()
		if err != nil {
			slog.Error("htmxSwapHandler: failed to open uploaded file",
				"status", http.StatusInternalServerError, "error", err, "filename", header.Filename)
			return ctx.String(http.StatusInternalServerError, "Failed to open uploaded file")
		}
		defer func() {
			if cerr := file.Close(); cerr != nil {
				slog.Error("htmxSwapHandler: failed to close uploaded file reader", "error", cerr, "filename", header.Filename)
			}
		}()
		uploads = append(uploads, core.Upload{Filename: header.Filename, Content: file})
	}

	result, err := service.coreService.SwapFaces(ctx.Request().Context(), uploads[0], uploads[1])
	switch {
	case errors.Is(err, faces.ErrNoFaceDetected):
		return ctx.HTML(http.StatusOK, resultMessage("Face swap failed: no face found in one of the images."))
	case errors.Is(err, imageio.ErrDecodeFailure):
		return ctx.HTML(http.StatusOK, resultMessage("One of the uploads is not a supported image."))
	case err != nil:
		slog.Error("htmxSwapHandler: face swap failed", "status", http.StatusInternalServerError, "error", err)
		return ctx.HTML(http.StatusOK, resultMessage("Face swap failed, please try again."))
	}

	id := html.EscapeString(result.Record.ID)
	setNoCache(ctx)
	return ctx.HTML(http.StatusOK, fmt.Sprintf(`<div id="swap-result"><article>
	<img src="/api/results/%s" alt="Swapped result %s" style="max-width:100%%;height:auto">
	<footer style="display:flex;gap:0.5rem">
		<a href="/api/results/%s" download="%s.jpg" role="button">Download</a>
		<button hx-delete="/htmx/result/%s" hx-target="#swap-result" hx-swap="outerHTML" class="secondary">Delete</button>
	</footer>
</article></div>`, id, id, id, id, id))
}

func (service *FrontendService) htmxDeleteResultHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	err := service.coreService.DeleteResult(ctx.Request().Context(), id)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		slog.Error("htmxDeleteResultHandler: failed to delete result",
			"status", http.StatusInternalServerError, "result_id", id, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to delete result")
	}
	setNoCache(ctx)
	return ctx.HTML(http.StatusOK, resultMessage("Result deleted."))
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}

func resultMessage(message string) string {
	return fmt.Sprintf(`<div id="swap-result"><p>%s</p></div>`, html.EscapeString(message))
}

func setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
