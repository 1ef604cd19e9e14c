package colorutil

import (
	"github.com/fatih/color"
)

var (
	colorCritical = color.New(color.FgRed, color.Bold)
	colorHigh     = color.New(color.FgYellow, color.Bold)
	colorMedium   = color.New(color.FgYellow)
	colorLow      = color.New(color.FgGreen)

	colorFlagged = color.New(color.FgRed, color.Bold)
	colorClean   = color.New(color.FgGreen, color.Bold)
	colorError   = color.New(color.FgYellow, color.Bold)
)

// ApplyNoColor disables color output
func ApplyNoColor() {
	color.NoColor = true
}

// ColorizeSeverity returns the severity string with appropriate color
func ColorizeSeverity(severity string) string {
	switch severity {
	case "critical":
		return colorCritical.Sprint(severity)
	case "high":
		return colorHigh.Sprint(severity)
	case "medium":
		return colorMedium.Sprint(severity)
	case "low":
		return colorLow.Sprint(severity)
	default:
		return severity
	}
}

// ColorizeStatus returns the verdict status string with appropriate color
func ColorizeStatus(status string) string {
	switch status {
	case "flagged":
		return colorFlagged.Sprint("FLAGGED")
	case "clean":
		return colorClean.Sprint("CLEAN")
	case "error":
		return colorError.Sprint("ERROR")
	default:
		return status
	}
}

// ColorizeScore returns a colored score string based on its magnitude
func ColorizeScore(text string, score int) string {
	switch {
	case score >= 100:
		return colorCritical.Sprint(text)
	case score >= 75:
		return colorHigh.Sprint(text)
	case score >= 25:
		return colorMedium.Sprint(text)
	default:
		return colorLow.Sprint(text)
	}
}
