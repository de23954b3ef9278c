package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/host"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/thumbnail"
)

type fakeBackend struct {
	filter, wantCapture bool
	infos               []host.WindowInfo
	err                 error
	status              host.Status
	icon                string
}

func (f *fakeBackend) WindowsInfo(_ context.Context, filter, wantCapture bool) ([]host.WindowInfo, host.Status, error) {
	f.filter, f.wantCapture = filter, wantCapture
	if f.err != nil {
		return nil, f.status, f.err
	}
	return f.infos, host.StatusOK, nil
}

func (f *fakeBackend) CaptureWindow(_ context.Context, id uint32) ([]byte, host.Status, error) {
	if id != 7 {
		return nil, host.StatusTargetNotFound, thumbnail.ErrTargetNotFound
	}
	return []byte("II*\x00tiff"), host.StatusOK, nil
}

func (f *fakeBackend) AppIcon(bundleID string) string {
	if bundleID == "org.example.editor" {
		return f.icon
	}
	return ""
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListWindows(t *testing.T) {
	backend := &fakeBackend{infos: []host.WindowInfo{
		{Title: "main.go", AppName: "Editor", BundleID: "org.example.editor", IsOnScreen: true, ID: 101},
	}}
	srv := New(backend, &Options{Logger: logging.Discard()})

	rec := get(t, srv.Router(), "/windows?filter=true&capture=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, backend.filter)
	assert.True(t, backend.wantCapture)

	var got []host.WindowInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, backend.infos, got)

	backend.infos = nil
	rec = get(t, srv.Router(), "/windows")
	assert.JSONEq(t, "[]", rec.Body.String())
	assert.False(t, backend.filter)
	assert.False(t, backend.wantCapture)
}

func TestListWindows_PermissionDenied(t *testing.T) {
	backend := &fakeBackend{err: capture.ErrPermissionDenied, status: host.StatusPermissionDenied}
	srv := New(backend, &Options{Logger: logging.Discard()})

	rec := get(t, srv.Router(), "/windows")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "permission_denied", body.Status)
}

func TestCaptureWindow(t *testing.T) {
	srv := New(&fakeBackend{}, &Options{Logger: logging.Discard()})

	rec := get(t, srv.Router(), "/windows/7/capture.tiff")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/tiff", rec.Header().Get("Content-Type"))
	assert.Equal(t, "II*\x00tiff", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv.Router(), "/windows/8/capture.tiff").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.Router(), "/windows/abc/capture.tiff").Code)
}

func TestAppIcon(t *testing.T) {
	icon := filepath.Join(t.TempDir(), "editor.png")
	require.NoError(t, os.WriteFile(icon, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	srv := New(&fakeBackend{icon: icon}, &Options{Logger: logging.Discard()})

	rec := get(t, srv.Router(), "/icons/org.example.editor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusNotFound, get(t, srv.Router(), "/icons/org.example.none").Code)
}

func TestRecordings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec.mp4"), []byte("mp4data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec.ts"), []byte("tsdata"), 0o644))
	srv := New(&fakeBackend{}, &Options{RecordingsDir: dir, Logger: logging.Discard()})

	rec := get(t, srv.Router(), "/recordings/rec.mp4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "mp4data", rec.Body.String())

	rec = get(t, srv.Router(), "/recordings/rec.ts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/MP2T", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, get(t, srv.Router(), "/recordings/missing.mp4").Code)
}

func TestRecordings_NotMountedWithoutDir(t *testing.T) {
	srv := New(&fakeBackend{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv.Router(), "/recordings/rec.mp4").Code)
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		in   string
		want string
	}{
		{"/a.mp4", filepath.Join(base, "a.mp4")},
		{"/sub/../a.mp4", filepath.Join(base, "a.mp4")},
		{"/../../etc/passwd", filepath.Join(base, "etc", "passwd")},
		{"", base},
	}
	for _, tt := range tests {
		got, ok := resolvePath(base, tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(&fakeBackend{}, &Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, httpStatus(host.StatusTargetNotFound))
	assert.Equal(t, http.StatusForbidden, httpStatus(host.StatusPermissionDenied))
	assert.Equal(t, http.StatusInternalServerError, httpStatus(host.StatusOf(errors.New("x"))))
}
