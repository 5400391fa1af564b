package cmd

import (
	"strings"

	"github.com/fatih/color"

	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "pass", string(orchestrator.OverallSecure):
		return colorSuccess(status)
	case "error", "fail", "failed":
		return colorError(status)
	case "skipped", string(orchestrator.OverallWarning):
		return colorWarn(status)
	default:
		return status
	}
}
