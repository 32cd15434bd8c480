package http

import (
	"archive/tar"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Archive streams the live file table of a Ready session as tar.gz
func (h *Handlers) Archive(c *gin.Context) {
	d, s, ok := h.readySession(c)
	if !ok {
		return
	}

	files := s.Files()
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.tar.gz"`, d.Name()))
	c.Status(http.StatusOK)

	if err := writeArchive(c.Writer, d.Name(), files, time.Now()); err != nil {
		// Headers are already sent
		h.logger.Warn("archive aborted", zap.String("workspace", d.Name()), zap.Error(err))
	}
}

// writeArchive writes files under a root directory named after the
// workspace, in path order
func writeArchive(w io.Writer, root string, files map[string]string, mtime time.Time) error {
	zw := gzip.NewWriter(w)
	tw := tar.NewWriter(zw)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		content := files[p]
		hdr := &tar.Header{
			Name:    root + "/" + p,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: mtime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}
