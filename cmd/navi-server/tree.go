package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"navi/internal/hierarchy"
)

func newTreeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <session-id>",
		Short: "Print the session tree rooted at a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.serverAddr)
			var node hierarchy.TreeNode
			if err := client.get("/api/sessions/"+args[0]+"/tree", &node); err != nil {
				return err
			}
			printTree(&node, "", true)
			return nil
		},
	}
}

func newBlockedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "blocked <root-id>",
		Short: "List sessions waiting on an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.serverAddr)
			var sessions []*hierarchy.Session
			if err := client.get("/api/sessions/"+args[0]+"/blocked", &sessions); err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No blocked sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s %s %s\n", statusBadge(s.AgentStatus), s.ID, roleLabel(s))
				if s.Escalation != nil {
					fmt.Printf("    %s: %s\n", s.Escalation.Type, s.Escalation.Summary)
					if len(s.Escalation.Options) > 0 {
						fmt.Printf("    options: %s\n", strings.Join(s.Escalation.Options, " | "))
					}
				}
			}
			return nil
		},
	}
}

func newPresetsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List available role presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.serverAddr)
			var presets []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Model       string `json:"model"`
			}
			if err := client.get("/api/presets", &presets); err != nil {
				return err
			}
			for _, p := range presets {
				line := p.Name
				if p.Description != "" {
					line += " - " + p.Description
				}
				if p.Model != "" {
					line += fmt.Sprintf(" (model: %s)", p.Model)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func printTree(node *hierarchy.TreeNode, prefix string, last bool) {
	connector := "├── "
	childPrefix := prefix + "│   "
	if last {
		connector = "└── "
		childPrefix = prefix + "    "
	}
	if prefix == "" {
		connector = ""
		childPrefix = ""
	}
	fmt.Printf("%s%s%s %s %s\n", prefix, connector, statusBadge(node.AgentStatus), node.ID, roleLabel(node.Session))
	for i, child := range node.Children {
		printTree(child, childPrefix, i == len(node.Children)-1)
	}
}

func roleLabel(s *hierarchy.Session) string {
	label := s.Task
	if s.Role != "" {
		label = fmt.Sprintf("[%s] %s", s.Role, s.Task)
	}
	const max = 60
	if len(label) > max {
		label = label[:max] + "..."
	}
	return label
}

// statusBadge renders a colored status tag, plain when stdout is not a TTY.
func statusBadge(status hierarchy.AgentStatus) string {
	tag := fmt.Sprintf("[%s]", status)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return tag
	}
	switch status {
	case hierarchy.StatusWorking:
		return color.GreenString(tag)
	case hierarchy.StatusWaiting:
		return color.YellowString(tag)
	case hierarchy.StatusBlocked:
		return color.New(color.FgRed, color.Bold).Sprint(tag)
	case hierarchy.StatusDelivered:
		return color.CyanString(tag)
	case hierarchy.StatusFailed:
		return color.RedString(tag)
	default:
		return color.New(color.Faint).Sprint(tag)
	}
}
