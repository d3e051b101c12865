// Package ui provides terminal styling for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail renders failure markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders de-emphasized text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
