package handler

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"assistantbot/internal/transport/http/response"
	"assistantbot/internal/vision"
)

const maxImageBytes = 10 << 20

type VisionHandler struct {
	classifier *vision.Classifier
}

func NewVisionHandler(classifier *vision.Classifier) *VisionHandler {
	return &VisionHandler{classifier: classifier}
}

func (h *VisionHandler) Classify(c *gin.Context) {
	if h.classifier == nil {
		response.InternalError(c, "image classification is not configured")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image is required")
		return
	}
	if fileHeader.Size > maxImageBytes {
		response.BadRequest(c, "image exceeds the 10MB limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.InternalError(c, "open uploaded image failed")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		response.InternalError(c, "read uploaded image failed")
		return
	}

	topK := 3
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 10 {
			topK = parsed
		}
	}

	predictions, err := h.classifier.Classify(data, topK)
	if err != nil {
		response.BadRequest(c, "classify image failed: "+err.Error())
		return
	}
	response.OK(c, gin.H{"predictions": predictions})
}
