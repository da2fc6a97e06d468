package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docuchat-backend/internal/config"
	"docuchat-backend/models"
	"docuchat-backend/services"
	"docuchat-backend/utils"
)

// ChatHandler serves chat turns and session management.
type ChatHandler struct {
	cfg    *config.Config
	rag    *services.RagOrchestrator
	store  services.ConversationStore
	export *services.ExportService
}

func NewChatHandler(cfg *config.Config, rag *services.RagOrchestrator, store services.ConversationStore, export *services.ExportService) *ChatHandler {
	return &ChatHandler{
		cfg:    cfg,
		rag:    rag,
		store:  store,
		export: export,
	}
}

func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	chat := r.Group("/chat")
	{
		chat.POST("/send", h.Send)
	}

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id/history", h.History)
		sessions.DELETE("/:id/history", h.ClearHistory)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.GET("/:id/export", h.Export)
	}
}

// Send answers one chat turn. An omitted session ID creates a fresh session
// for the turn.
func (h *ChatHandler) Send(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		session, err := h.store.CreateSession(c.Request.Context(), "")
		if err != nil {
			utils.FromDomainError(c, err)
			return
		}
		sessionID = session.ID
	}

	result, err := h.rag.Answer(c.Request.Context(), sessionID, req.Message)
	if err != nil && !errors.Is(err, models.ErrRecordFailed) {
		utils.FromDomainError(c, err)
		return
	}

	sources := make([]models.Source, 0, len(result.CitedChunks))
	for _, chunk := range result.CitedChunks {
		sources = append(sources, models.Source{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			PageNumber: chunk.PageNumber,
			Snippet:    snippet(chunk.Text, 200),
		})
	}

	resp := models.ChatResponse{
		Answer:    result.Answer,
		Sources:   sources,
		SessionID: result.SessionID,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now(),
	}

	// The answer was produced but the transcript write failed; deliver it
	// anyway and flag the persistence problem.
	if errors.Is(err, models.ErrRecordFailed) {
		c.JSON(http.StatusOK, gin.H{
			"answer":     resp,
			"warning":    "answer could not be recorded in the session transcript",
			"session_id": result.SessionID,
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	// Body is optional.
	_ = c.ShouldBindJSON(&body)

	session, err := h.store.CreateSession(c.Request.Context(), body.Title)
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.store.ListSessions(c.Request.Context(), h.cfg.SessionListLimit)
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *ChatHandler) History(c *gin.Context) {
	messages, err := h.store.History(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("id"),
		"messages":   messages,
		"count":      len(messages),
	})
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	if err := h.store.ClearHistory(c.Request.Context(), c.Param("id")); err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.store.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

func (h *ChatHandler) Export(c *gin.Context) {
	data, filename, err := h.export.ExportTranscript(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
