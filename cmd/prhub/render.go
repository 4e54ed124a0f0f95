// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

const (
	userPrompt      = "you> "
	assistantPrompt = "assistant> "
)

// renderTranscript formats a full transcript for display, used when
// resuming a conversation and by `conversations show`.
func renderTranscript(msgs []datatypes.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch {
		case m.Role == datatypes.RoleUser:
			b.WriteString(userStyle.Render(userPrompt))
			b.WriteString(m.Content)
		case m.IsError:
			b.WriteString(assistantStyle.Render(assistantPrompt))
			b.WriteString(errorStyle.Render(m.Content))
		default:
			b.WriteString(assistantStyle.Render(assistantPrompt))
			b.WriteString(m.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderMeta formats a dim informational line.
func renderMeta(format string, args ...any) string {
	return metaStyle.Render(fmt.Sprintf(format, args...))
}
