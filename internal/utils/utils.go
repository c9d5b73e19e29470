// Package utils provides terminal output helpers for the Hale CLI.
package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goombaio/namegenerator"
)

var (
	headingColor = color.New(color.FgHiCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgBlue)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	subtleColor  = color.New(color.FgHiBlack)
)

// PrintHeading prints a section heading
func PrintHeading(title string) {
	fmt.Println(headingColor.Sprint(title))
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Println(successColor.Sprint("✓ ") + message)
}

// PrintInfo prints an informational message
func PrintInfo(message string) {
	fmt.Println(infoColor.Sprint("ℹ ") + message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println(warningColor.Sprint("⚠ ") + message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Println(errorColor.Sprint("✗ ") + message)
}

// PrintKeyValue prints an aligned key: value line
func PrintKeyValue(key, value string) {
	fmt.Printf("%s %s\n", subtleColor.Sprintf("%-18s", key+":"), value)
}

// GenerateDeviceName creates a random, memorable device name like
// "wispy-dust" for devices that were never explicitly named.
func GenerateDeviceName() string {
	gen := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
	return strings.ReplaceAll(gen.Generate(), "_", "-")
}

// FormatDuration renders a duration with sensible precision for CLI output
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// Truncate shortens a string for table display
func Truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
