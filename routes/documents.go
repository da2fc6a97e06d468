package routes

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/queue"
	"docuchat-backend/models"
	"docuchat-backend/services"
	"docuchat-backend/utils"
)

var pdfMagic = []byte("%PDF")

// DocumentHandler serves upload and document management endpoints. Small
// uploads are processed inline; large ones are stored and handed to the
// worker through the task queue.
type DocumentHandler struct {
	cfg       *config.Config
	ingestion *services.IngestionService
	queue     *asynq.Client
}

func NewDocumentHandler(cfg *config.Config, ingestion *services.IngestionService, queueClient *asynq.Client) *DocumentHandler {
	return &DocumentHandler{
		cfg:       cfg,
		ingestion: ingestion,
		queue:     queueClient,
	}
}

func (h *DocumentHandler) RegisterRoutes(r *gin.RouterGroup) {
	docs := r.Group("/documents")
	{
		docs.POST("/upload", h.Upload)
		docs.GET("", h.List)
		docs.GET("/:id", h.Get)
		docs.DELETE("/:id", h.Delete)
	}
}

// Upload accepts a multipart PDF. The response is the completed document
// for the sync path, or a 202 with a pending document for the async path.
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("pdf")
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "missing 'pdf' form file", err.Error())
		return
	}

	if fileHeader.Size > h.cfg.MaxFileSize {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", h.cfg.MaxFileSize))
		return
	}

	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".pdf") {
		utils.RespondWithError(c, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	if ct := fileHeader.Header.Get("Content-Type"); !h.typeAllowed(ct) {
		utils.RespondWithError(c, http.StatusUnsupportedMediaType,
			fmt.Sprintf("content type %s is not allowed", ct))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "failed to open upload", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	if !bytes.HasPrefix(data, pdfMagic) {
		utils.RespondWithError(c, http.StatusBadRequest, "file is not a valid PDF")
		return
	}

	if int64(len(data)) <= h.cfg.SyncProcessingLimit || h.queue == nil {
		h.uploadSync(c, fileHeader.Filename, data)
		return
	}
	h.uploadAsync(c, fileHeader.Filename, data)
}

// typeAllowed checks the declared part content type against the configured
// allow list. An absent header is tolerated; the %PDF magic check still
// guards the actual bytes.
func (h *DocumentHandler) typeAllowed(contentType string) bool {
	if contentType == "" {
		return true
	}
	contentType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, allowed := range h.cfg.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), contentType) {
			return true
		}
	}
	return false
}

func (h *DocumentHandler) uploadSync(c *gin.Context, filename string, data []byte) {
	doc, err := h.ingestion.IngestPDF(c.Request.Context(), filename, data)
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *DocumentHandler) uploadAsync(c *gin.Context, filename string, data []byte) {
	if err := os.MkdirAll(h.cfg.FileStorageDir, 0o755); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to prepare storage", err.Error())
		return
	}

	path := filepath.Join(h.cfg.FileStorageDir, uuid.New().String()+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to store upload", err.Error())
		return
	}

	doc, err := h.ingestion.CreatePending(c.Request.Context(), filename, path, int64(len(data)))
	if err != nil {
		os.Remove(path)
		utils.FromDomainError(c, err)
		return
	}

	task, err := queue.NewIngestPDFTask(doc.ID, path, filename)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to build ingestion task", err.Error())
		return
	}
	info, err := h.queue.Enqueue(task)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to enqueue ingestion", err.Error())
		return
	}

	logger.Info("document queued for ingestion",
		"document_id", doc.ID,
		"task_id", info.ID,
		"queue", info.Queue)

	c.JSON(http.StatusAccepted, models.UploadResponse{
		ID:       doc.ID,
		Filename: doc.Filename,
		Status:   doc.Status,
		Message:  "document queued for processing",
		TaskID:   info.ID,
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.ingestion.ListDocuments(c.Request.Context())
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"count":     len(docs),
	})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.ingestion.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.ingestion.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		utils.FromDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}
