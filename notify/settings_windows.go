//go:build windows

package notify

const screenCaptureSettingsURL = "ms-settings:privacy-graphicscaptureprogrammatic"

func settingsCommand() (string, []string) {
	return "rundll32", []string{"url.dll,FileProtocolHandler", screenCaptureSettingsURL}
}
