package handlers

import (
	"bufio"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/blob"
	"lotbuy/internal/log"
)

type UploadHandler struct {
	Store    blob.Store
	MaxBytes int64
}

var allowedUpload = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// Upload stores one multipart "file" and returns its URL. The type is sniffed
// from the content, not taken from the client.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if h.MaxBytes > 0 && fh.Size > h.MaxBytes {
		log.Security(c, "upload.too_large", map[string]any{"size": fh.Size})
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file too large", "kind": "validation"})
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 512)
	head, _ := r.Peek(512)
	ctype := http.DetectContentType(head)
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	if !allowedUpload[ctype] {
		log.Security(c, "upload.rejected", map[string]any{"type": ctype})
		return badRequest(c, "unsupported file type")
	}

	url, err := h.Store.Put(c.UserContext(), fh.Filename, ctype, r)
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "upload.store", map[string]any{"type": ctype, "size": fh.Size})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}
