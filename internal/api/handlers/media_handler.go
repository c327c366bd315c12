package handlers

import (
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/maheshrc27/gramflow/internal/service"
	"github.com/maheshrc27/gramflow/internal/transfer"
)

type MediaHandler struct {
	store   service.MediaStore
	maxSize int64
}

func NewMediaHandler(store service.MediaStore, maxSize int64) *MediaHandler {
	return &MediaHandler{store: store, maxSize: maxSize}
}

// UploadMedia stores the "file" form field and returns its URL. The media
// type is sniffed from the content, not taken from the client.
func (h *MediaHandler) UploadMedia(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "No file uploaded")
	}
	if h.maxSize > 0 && fileHeader.Size > h.maxSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "File too large",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		slog.Info(err.Error())
		return badRequest(c, "Unable to read file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Info(err.Error())
		return badRequest(c, "Unable to read file")
	}

	kind, ext, err := service.DetectMedia(data)
	if err != nil {
		return errorResponse(c, err)
	}

	url, err := h.store.Store(c.UserContext(), data, ext)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(transfer.MediaUploadResponse{
		URL:       url,
		MediaType: string(kind),
		Size:      int64(len(data)),
	})
}
