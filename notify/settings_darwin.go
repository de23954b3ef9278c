//go:build darwin

package notify

const screenCaptureSettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_ScreenCapture"

func settingsCommand() (string, []string) {
	return "open", []string{screenCaptureSettingsURL}
}
