package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dreamweaver/internal/catalog"
	"dreamweaver/internal/models"
)

// SessionService - операции сессии, доступные через HTTP.
type SessionService interface {
	SelectCategory(ctx context.Context, name string) error
	SelectStoryIdea(ctx context.Context, title string) error
	SelectChoice(ctx context.Context, choice string) error
	ForceFinish(ctx context.Context) error
	GoHome()
	ViewHistory() error
	ReturnFromHistory() error
	OpenHistoryEntry(id uuid.UUID) error
	Snapshot() models.SessionSnapshot
	History() []models.Story
}

// APIError - тело ответа об ошибке.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type selectCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type selectIdeaRequest struct {
	Title string `json:"title" binding:"required"`
}

type selectChoiceRequest struct {
	Choice string `json:"choice" binding:"required"`
}

// Handler обрабатывает HTTP запросы к сессии.
type Handler struct {
	session SessionService
	logger  *zap.Logger
}

// NewHandler создает новый Handler.
func NewHandler(session SessionService, logger *zap.Logger) *Handler {
	return &Handler{
		session: session,
		logger:  logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты /api.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.GET("/categories", h.listCategories)
		api.GET("/history", h.listHistory)
	}

	sessionGroup := api.Group("/session")
	{
		sessionGroup.GET("", h.getSnapshot)
		sessionGroup.POST("/category", h.selectCategory)
		sessionGroup.POST("/idea", h.selectIdea)
		sessionGroup.POST("/choice", h.selectChoice)
		sessionGroup.POST("/finish", h.forceFinish)
		sessionGroup.POST("/home", h.goHome)
		sessionGroup.POST("/history", h.viewHistory)
		sessionGroup.POST("/history/return", h.returnFromHistory)
		sessionGroup.POST("/history/:id", h.openHistoryEntry)
	}
}

func (h *Handler) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, catalog.Categories())
}

func (h *Handler) listHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.History())
}

func (h *Handler) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *Handler) selectCategory(c *gin.Context) {
	var req selectCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.respond(c, h.session.SelectCategory(generationContext(c), req.Name))
}

func (h *Handler) selectIdea(c *gin.Context) {
	var req selectIdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.respond(c, h.session.SelectStoryIdea(generationContext(c), req.Title))
}

func (h *Handler) selectChoice(c *gin.Context) {
	var req selectChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.respond(c, h.session.SelectChoice(generationContext(c), req.Choice))
}

func (h *Handler) forceFinish(c *gin.Context) {
	h.respond(c, h.session.ForceFinish(generationContext(c)))
}

func (h *Handler) goHome(c *gin.Context) {
	h.session.GoHome()
	h.respond(c, nil)
}

func (h *Handler) viewHistory(c *gin.Context) {
	h.respond(c, h.session.ViewHistory())
}

func (h *Handler) returnFromHistory(c *gin.Context) {
	h.respond(c, h.session.ReturnFromHistory())
}

func (h *Handler) openHistoryEntry(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid history entry ID", zap.String("id", idStr), zap.Error(err))
		c.JSON(http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "invalid history entry id"})
		return
	}
	h.respond(c, h.session.OpenHistoryEntry(id))
}

// generationContext отвязывает генерацию от запроса: обрыв соединения не прерывает историю.
func generationContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "invalid request body: " + err.Error()})
}

// respond отдает снапшот при успехе и ошибку в едином формате иначе.
func (h *Handler) respond(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, h.session.Snapshot())
		return
	}

	status, message := mapError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, APIError{Code: status, Message: message})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUnknownCategory),
		errors.Is(err, models.ErrUnknownIdea),
		errors.Is(err, models.ErrInvalidChoice):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrHistoryEntryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidPhase),
		errors.Is(err, models.ErrNoActiveStory),
		errors.Is(err, models.ErrSessionBusy),
		errors.Is(err, models.ErrSessionReset):
		return http.StatusConflict, err.Error()
	}
	if msg := models.UserMessage(err); msg != "" {
		return http.StatusBadGateway, msg
	}
	return http.StatusInternalServerError, "Internal server error"
}
