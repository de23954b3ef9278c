package catalog

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
)

// Identity describes the host process so its own windows can be hidden.
type Identity struct {
	BundleID string
	Name     string
	PID      int32
}

// owns reports whether id describes the owner of a window.
func (id Identity) owns(bundleID string, pid int32) bool {
	if id.BundleID != "" && id.BundleID == bundleID {
		return true
	}
	return id.PID != 0 && id.PID == pid
}

// CurrentProcess resolves the identity of the running process. The bundle id
// is left empty; hosts that have one set it explicitly.
func CurrentProcess(ctx context.Context) Identity {
	id := Identity{PID: int32(os.Getpid())}
	p, err := process.NewProcessWithContext(ctx, id.PID)
	if err != nil {
		return id
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		id.Name = name
	} else if exe, err := p.ExeWithContext(ctx); err == nil {
		id.Name = filepath.Base(exe)
	}
	return id
}
