package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/swaggo/swag"

	"github.com/memohai/tgdownloader/internal/docs"
)

type SwaggerHandler struct {
	logger *slog.Logger
}

// NewSwaggerHandler serves the generated API document, stamped with version when set.
func NewSwaggerHandler(log *slog.Logger, version string) *SwaggerHandler {
	if log == nil {
		log = slog.Default()
	}
	if version != "" {
		docs.SwaggerInfo.Version = version
	}
	return &SwaggerHandler{logger: log.With(slog.String("handler", "swagger"))}
}

func (h *SwaggerHandler) Register(e *echo.Echo) {
	e.GET("/api/swagger.json", h.Spec)
}

func (h *SwaggerHandler) Spec(c echo.Context) error {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		h.logger.Error("read swagger doc failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, []byte(doc))
}
