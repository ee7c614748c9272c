package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"assistantbot/internal/app"
	"assistantbot/internal/ingest"
	"assistantbot/internal/transport/http/response"
)

const maxUploadBytes = 20 << 20

type DocumentHandler struct {
	knowledge *app.KnowledgeService
	pipeline  *ingest.Pipeline
}

func NewDocumentHandler(knowledge *app.KnowledgeService, pipeline *ingest.Pipeline) *DocumentHandler {
	return &DocumentHandler{knowledge: knowledge, pipeline: pipeline}
}

type indexTextRequest struct {
	Source string `json:"source" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

func (h *DocumentHandler) IndexText(c *gin.Context) {
	var req indexTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "source and text are required")
		return
	}

	docID, err := h.pipeline.IngestText(c.Request.Context(), req.Source, req.Text)
	if err != nil {
		h.writeIngestError(c, docID, err)
		return
	}
	h.writeIngestResult(c, docID)
}

func (h *DocumentHandler) writeIngestError(c *gin.Context, docID string, err error) {
	switch {
	case docID != "":
		// The document exists in failed state; report it.
		h.writeIngestResult(c, docID)
	case errors.Is(err, app.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, "ingest document failed")
	}
}

// writeIngestResult reports the final document state; synchronous ingestion
// never leaves a document in "processing" at response time.
func (h *DocumentHandler) writeIngestResult(c *gin.Context, docID string) {
	doc, err := h.knowledge.GetDocument(docID)
	if err != nil {
		response.InternalError(c, "load ingested document failed")
		return
	}
	response.OK(c, gin.H{
		"document_id": doc.ID,
		"status":      doc.Status,
		"fail_reason": doc.FailReason,
		"chunk_count": doc.ChunkCount,
	})
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.BadRequest(c, "file exceeds the 20MB upload limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.InternalError(c, "open uploaded file failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		response.InternalError(c, "read uploaded file failed")
		return
	}

	docID, err := h.pipeline.IngestFile(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		h.writeIngestError(c, docID, err)
		return
	}
	h.writeIngestResult(c, docID)
}

type ingestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *DocumentHandler) IngestURL(c *gin.Context) {
	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "url is required")
		return
	}

	docID, err := h.pipeline.IngestURL(c.Request.Context(), req.URL)
	if err != nil {
		h.writeIngestError(c, docID, err)
		return
	}
	h.writeIngestResult(c, docID)
}

func (h *DocumentHandler) List(c *gin.Context) {
	response.OK(c, h.knowledge.ListDocuments())
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.knowledge.GetDocument(c.Param("id"))
	if err != nil {
		response.NotFound(c, response.CodeDocumentNotFound, "document not found")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	removed, err := h.knowledge.Remove(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.NotFound(c, response.CodeDocumentNotFound, "document not found")
			return
		}
		response.InternalError(c, "delete document failed")
		return
	}
	response.OK(c, gin.H{"removed_chunks": removed})
}

func (h *DocumentHandler) Stats(c *gin.Context) {
	response.OK(c, h.knowledge.Stats())
}
