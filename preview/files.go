package preview

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// freshWindow is how recently a file must have changed to be treated as
// still being written.
const freshWindow = 2 * time.Second

var recordingTypes = map[string]string{
	".mp4": "video/mp4",
	".m4s": "video/mp4",
	".ts":  "video/MP2T",
}

// NewRecordingsHandler serves finished recordings from dir. Paths are taken
// relative to the handler's mount point.
func NewRecordingsHandler(dir string, logger *slog.Logger) http.Handler {
	files := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fsPath, ok := resolvePath(dir, r.URL.Path)
		if !ok {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		if ct, ok := recordingTypes[strings.ToLower(path.Ext(r.URL.Path))]; ok {
			w.Header().Set("Content-Type", ct)
		}
		if fi, err := os.Stat(fsPath); err == nil && fi.Mode().IsRegular() && time.Since(fi.ModTime()) < freshWindow {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		files.ServeHTTP(ww, r)
		logger.Debug("recording served",
			slog.String("file", fsPath),
			slog.Int("status", statusOf(ww)),
			slog.Int("bytes", ww.BytesWritten()))
	})
}

// resolvePath maps a request path onto baseDir, refusing anything that
// would leave it.
func resolvePath(baseDir, reqPath string) (string, bool) {
	rel := filepath.FromSlash(strings.TrimPrefix(path.Clean("/"+reqPath), "/"))
	if rel == "" {
		return baseDir, true
	}
	if !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(baseDir, rel), true
}

func statusOf(ww chimiddleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}
