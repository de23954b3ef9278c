//go:build !darwin && !windows

package notify

import "os/exec"

// settingsCommand picks GNOME's privacy panel, then KDE's application
// permissions page.
func settingsCommand() (string, []string) {
	candidates := [][]string{
		{"gnome-control-center", "privacy"},
		{"systemsettings", "kcm_app-permissions"},
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			return c[0], c[1:]
		}
	}
	return "", nil
}
