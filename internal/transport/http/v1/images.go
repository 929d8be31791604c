package v1

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// GetImage serves a generated artifact by reference.
// GET /api/images/*
func (h *Handler) GetImage(c echo.Context) error {
	ref := c.Param("*")
	if ref == "" || strings.Contains(ref, "..") || strings.HasPrefix(ref, "/") || strings.Contains(ref, "\\") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid image path"})
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(ref))] {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported image type"})
	}

	path := filepath.Join(h.outputDir, filepath.FromSlash(ref))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "image not found"})
	}

	f, err := os.Open(path)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "image not found"})
	}
	defer f.Close()
	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}
