// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cliclient

import (
	"github.com/charmbracelet/lipgloss"
)

// Status colors used by runs table rendering.
var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	StatusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Bold        = lipgloss.NewStyle().Bold(true)
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// RenderRunStatus colors a jobmodel.RunStatus string the way runs list/show
// render it: green for a clean finish, red for anything the controller
// counts as failure, blue while still running.
func RenderRunStatus(status string) string {
	switch status {
	case "success":
		return StatusOK.Render(status)
	case "running":
		return StatusInfo.Render(status)
	case "aborted":
		return StatusWarn.Render(status)
	default:
		return StatusError.Render(status)
	}
}
