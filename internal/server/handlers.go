package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
)

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Chunks        int    `json:"chunks"`
	PromptVersion string `json:"prompt_version"`
}

func (h *Handler) PostAskHandler(c echo.Context) error {
	var body askRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Ongeldige aanvraag."})
	}
	// a blank question is no action, it must not open a session
	if strings.TrimSpace(body.Question) == "" {
		return c.NoContent(http.StatusNoContent)
	}

	var (
		sessionID string
		conv      *memory.Conversation
	)
	if h.sessions != nil {
		var err error
		sessionID, conv, err = h.sessions.Get(body.SessionID)
		if err != nil {
			return err
		}
	}

	ctx := c.Request().Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	answer, err := h.asker.Ask(ctx, body.Question, conv)
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		return c.NoContent(http.StatusNoContent)
	case models.IsProviderError(err):
		log.Error().Err(err).Str("session_id", sessionID).Msg("Provider call failed")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: models.FriendlyErrorMessage})
	case err != nil:
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to answer question")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: models.FriendlyErrorMessage})
	}

	answer.SessionID = sessionID
	return c.JSON(http.StatusOK, answer)
}

func (h *Handler) DeleteSessionHandler(c echo.Context) error {
	if h.sessions != nil {
		h.sessions.End(c.Param("id"))
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetHealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Chunks:        h.asker.IndexSize(),
		PromptVersion: h.asker.PromptVersion(),
	})
}
