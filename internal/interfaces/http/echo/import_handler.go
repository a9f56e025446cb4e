package echo

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

const HeaderUserID = "X-User-ID"

type importCommands interface {
	StartImport(ctx context.Context, cmd app.StartImportCommand) (string, error)
	CancelImport(ctx context.Context, cmd app.CancelImportCommand) error
}

type ImportHandler struct {
	commands importCommands
	status   app.GetImportStatus
}

type startImportRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

type startImportResponse struct {
	ArchiveJobID string `json:"archive_job_id"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewImportHandler(commands importCommands, status app.GetImportStatus) *ImportHandler {
	return &ImportHandler{commands: commands, status: status}
}

func (h *ImportHandler) StartImport(c echo.Context) error {
	userID, ok := userFrom(c)
	if !ok {
		return missingUser(c)
	}

	var req startImportRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "bad_request",
				Message: "invalid request body",
			}})
		}
	}

	cmd := app.StartImportCommand{UserID: userID}
	if req.Start != nil || req.End != nil {
		if req.Start == nil || req.End == nil {
			return invalidPeriod(c)
		}
		period, err := domain.NewPeriod(*req.Start, *req.End)
		if err != nil {
			return invalidPeriod(c)
		}
		cmd.Period = &period
	}

	archiveJobID, err := h.commands.StartImport(c.Request().Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrImportAlreadyStarted):
			return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
				Code:    "import_in_progress",
				Message: "an import is already in progress",
			}})
		case errors.Is(err, app.ErrStartImport):
			return c.JSON(http.StatusBadGateway, apiResponse{Error: &errorBody{
				Code:    "provider_error",
				Message: "failed to start export with the provider",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to start import",
		}})
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: startImportResponse{ArchiveJobID: archiveJobID}})
}

func (h *ImportHandler) CancelImport(c echo.Context) error {
	userID, ok := userFrom(c)
	if !ok {
		return missingUser(c)
	}

	err := h.commands.CancelImport(c.Request().Context(), app.CancelImportCommand{
		UserID:       userID,
		ArchiveJobID: c.Param("archiveJobId"),
	})
	if err != nil {
		if errors.Is(err, app.ErrRunningImportNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "no running import with this archive job id",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to cancel import",
		}})
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *ImportHandler) LatestImport(c echo.Context) error {
	userID, ok := userFrom(c)
	if !ok {
		return missingUser(c)
	}

	out, err := h.status.Execute(c.Request().Context(), app.GetImportStatusInput{UserID: userID})
	if err != nil {
		if errors.Is(err, app.ErrImportNotFound) {
			return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
				Code:    "not_found",
				Message: "no import found",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to get import status",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: out})
}

func userFrom(c echo.Context) (string, bool) {
	userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	return userID, userID != ""
}

func missingUser(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, apiResponse{Error: &errorBody{
		Code:    "unauthenticated",
		Message: HeaderUserID + " header is required",
	}})
}

func invalidPeriod(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
		Code:    "invalid_period",
		Message: "start and end must both be set and start must be before end",
	}})
}
