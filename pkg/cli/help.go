/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
)

// Command is one shell command for help display: its name, what it
// does, and -- when it takes arguments -- a usage line.
type Command struct {
	Name        string
	Description string
	Usage       string
}

// HelpFormatter renders the command list of an operator tool.
type HelpFormatter struct {
	AppName    string
	AppVersion string
	Commands   []Command
}

// NewHelpFormatter creates a new help formatter.
func NewHelpFormatter(appName, version string) *HelpFormatter {
	return &HelpFormatter{AppName: appName, AppVersion: version}
}

// AddCommand adds a command to the help formatter.
func (h *HelpFormatter) AddCommand(cmd Command) {
	h.Commands = append(h.Commands, cmd)
}

// PrintVersion prints version information.
func (h *HelpFormatter) PrintVersion() {
	fmt.Printf("%s version %s\n", h.AppName, h.AppVersion)
}

// PrintUsage prints the command list, with each command's usage line
// dimmed beneath its description.
func (h *HelpFormatter) PrintUsage() {
	fmt.Printf("\n%s\n", Highlight(h.AppName+" - smiol operator tool"))
	fmt.Printf("Version: %s\n\n", h.AppVersion)

	if len(h.Commands) == 0 {
		return
	}
	fmt.Printf("%s\n", Highlight("COMMANDS:"))
	maxLen := 0
	for _, cmd := range h.Commands {
		if len(cmd.Name) > maxLen {
			maxLen = len(cmd.Name)
		}
	}
	for _, cmd := range h.Commands {
		fmt.Printf("  %-*s  %s\n", maxLen+2, cmd.Name, cmd.Description)
		if cmd.Usage != "" {
			fmt.Printf("  %-*s  %s\n", maxLen+2, "", Dimmed(cmd.Usage))
		}
	}
	fmt.Println()
}
