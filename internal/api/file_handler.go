package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/mirror"
)

// FileStore is the file repository surface the handler needs.
type FileStore interface {
	Create(ctx context.Context, file *domain.File) (*domain.File, error)
	Get(ctx context.Context, tenantID, fileID string) (*domain.File, error)
	List(ctx context.Context, tenantID string) ([]domain.File, error)
}

// JobCreator creates the pipeline job chained to an upload.
type JobCreator interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
}

// FileHandler handles file upload and retrieval requests.
type FileHandler struct {
	files     FileStore
	jobs      JobCreator
	recorder  *mirror.Recorder
	logger    logger.Logger
	uploadDir string
	maxSize   int64
}

// NewFileHandler creates a file handler.
func NewFileHandler(
	files FileStore,
	jobs JobCreator,
	recorder *mirror.Recorder,
	log logger.Logger,
	uploadDir string,
	maxSize int64,
) *FileHandler {
	return &FileHandler{
		files:     files,
		jobs:      jobs,
		recorder:  recorder,
		logger:    log,
		uploadDir: uploadDir,
		maxSize:   maxSize,
	}
}

// Upload handles POST /api/v1/files. It stores the uploaded bytes, creates
// the File record, and enqueues the text_extract job that starts the
// pipeline.
func (h *FileHandler) Upload(c *gin.Context) {
	tenant := tenantID(c)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if header.Size > h.maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds %d bytes", h.maxSize),
		})
		return
	}

	storedName := uuid.NewString() + filepath.Ext(header.Filename)
	uploadPath := filepath.Join(h.uploadDir, storedName)
	if err := c.SaveUploadedFile(header, uploadPath); err != nil {
		h.logger.Error("failed to store upload", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	record, err := domain.NewFile(tenant, storedName, header.Filename,
		header.Header.Get("Content-Type"), uploadPath, header.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, err := h.files.Create(c.Request.Context(), record)
	if err != nil {
		h.logger.Error("failed to create file record", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create file"})
		return
	}

	jobSpec, err := domain.NewJob(tenant, domain.JobKindTextExtract,
		domain.DefaultPriority, domain.FileMetadataJSON(file.ID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build job"})
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), jobSpec)
	if err != nil {
		h.logger.Error("failed to create extract job",
			logger.String("file_id", file.ID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	h.recorder.RecordFile(c.Request.Context(), file)
	h.recorder.RecordJob(c.Request.Context(), job)

	h.logger.Info("file uploaded",
		logger.String("tenant_id", tenant),
		logger.String("file_id", file.ID),
		logger.String("job_id", job.ID),
		logger.Int64("size", file.Size))

	c.JSON(http.StatusCreated, gin.H{"file": file, "job": job})
}

// List handles GET /api/v1/files.
func (h *FileHandler) List(c *gin.Context) {
	files, err := h.files.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.logger.Error("failed to list files", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	if files == nil {
		files = []domain.File{}
	}
	c.JSON(http.StatusOK, files)
}

// Get handles GET /api/v1/files/:id.
func (h *FileHandler) Get(c *gin.Context) {
	file, err := h.files.Get(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		h.logger.Error("failed to get file", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get file"})
		return
	}
	c.JSON(http.StatusOK, file)
}
