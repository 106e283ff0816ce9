package auth

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Launcher hands a URL to the human, typically by opening a browser.
type Launcher interface {
	Open(url string) error
}

// SystemLauncher opens URLs with the platform's default handler.
type SystemLauncher struct{}

// Open launches the system browser at url.
func (SystemLauncher) Open(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	return nil
}
