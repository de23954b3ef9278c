package host

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// IconLocator resolves an application's icon file.
type IconLocator interface {
	Locate(bundleID string) (string, bool)
}

var iconSizes = []string{"512x512", "256x256", "128x128", "96x96", "64x64", "48x48", "scalable"}

// XDGIconLocator searches the hicolor icon theme and pixmaps directories.
// Dirs defaults to $XDG_DATA_HOME and $XDG_DATA_DIRS.
type XDGIconLocator struct {
	Dirs []string
}

func (x XDGIconLocator) dataDirs() []string {
	if len(x.Dirs) > 0 {
		return x.Dirs
	}
	var dirs []string
	if home := os.Getenv("XDG_DATA_HOME"); home != "" {
		dirs = append(dirs, home)
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share"))
	}
	system := os.Getenv("XDG_DATA_DIRS")
	if system == "" {
		system = "/usr/local/share:/usr/share"
	}
	return append(dirs, filepath.SplitList(system)...)
}

func (x XDGIconLocator) Locate(bundleID string) (string, bool) {
	if bundleID == "" || strings.ContainsAny(bundleID, `/\`) {
		return "", false
	}
	names := []string{bundleID}
	if i := strings.LastIndexByte(bundleID, '.'); i >= 0 && i < len(bundleID)-1 {
		names = append(names, strings.ToLower(bundleID[i+1:]))
	}

	for _, dir := range x.dataDirs() {
		for _, name := range names {
			for _, size := range iconSizes {
				for _, ext := range []string{".png", ".svg"} {
					p := filepath.Join(dir, "icons", "hicolor", size, "apps", name+ext)
					if fileExists(p) {
						return p, true
					}
				}
			}
			p := filepath.Join(dir, "pixmaps", name+".png")
			if fileExists(p) {
				return p, true
			}
		}
	}
	return "", false
}

// AppBundleIconLocator finds the icon inside a macOS application bundle
// named after the application.
type AppBundleIconLocator struct {
	Roots []string
	// Names maps bundle ids to application names.
	Names func(bundleID string) string
}

func (a AppBundleIconLocator) Locate(bundleID string) (string, bool) {
	if a.Names == nil {
		return "", false
	}
	name := a.Names(bundleID)
	if name == "" {
		return "", false
	}
	roots := a.Roots
	if len(roots) == 0 {
		roots = []string{"/Applications", "/System/Applications"}
	}
	for _, root := range roots {
		for _, icon := range []string{"AppIcon.icns", name + ".icns"} {
			p := filepath.Join(root, name+".app", "Contents", "Resources", icon)
			if fileExists(p) {
				return p, true
			}
		}
	}
	return "", false
}

// DefaultIconLocator returns the locator for the running platform.
func DefaultIconLocator(names func(string) string) IconLocator {
	if runtime.GOOS == "darwin" {
		return AppBundleIconLocator{Names: names}
	}
	return XDGIconLocator{}
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
