// Package theme provides the Lip Gloss palette and styles for the operator
// console. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorIdle      = lipgloss.Color("#4b5563")
	ColorArmed     = lipgloss.Color("#2563eb")
	ColorDelivered = lipgloss.Color("#16a34a")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorTag     = lipgloss.Color("#a855f7")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "idle":
		return ColorIdle
	case "armed":
		return ColorArmed
	case "delivered":
		return ColorDelivered
	default:
		return ColorDefault
	}
}

// StateGlyph returns a glyph for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "idle":
		return "○"
	case "armed":
		return "◎"
	case "delivered":
		return "✓"
	default:
		return "·"
	}
}

// Flag renders a boolean indicator.
func Flag(on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(ColorHealthy).Render("on")
	}
	return StyleDimmed.Render("off")
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorTag)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
