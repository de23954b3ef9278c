package capture

import (
	"fmt"
	"runtime"
)

// NativeProvider names the OS capture API the native backend would bind to.
func NativeProvider() string {
	switch runtime.GOOS {
	case "darwin":
		return "screencapturekit"
	case "linux":
		return "pipewire"
	case "windows":
		return "windows.graphics.capture"
	default:
		return ""
	}
}

// NewNativeBackend returns the OS capture backend. Native bindings are
// provided by the embedding application, so this build always reports
// ErrNotImplemented.
func NewNativeBackend() (Backend, error) {
	provider := NativeProvider()
	if provider == "" {
		return nil, fmt.Errorf("%w: no backend for %s", ErrNotImplemented, runtime.GOOS)
	}
	return nil, fmt.Errorf("%w: %s bindings are not linked into this build", ErrNotImplemented, provider)
}
