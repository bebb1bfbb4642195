package main

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"navi/internal/hierarchy"
)

var resolutionActions = []hierarchy.ResolutionAction{
	hierarchy.ActionAnswer,
	hierarchy.ActionDecide,
	hierarchy.ActionUnblock,
	hierarchy.ActionAbort,
	hierarchy.ActionEscalateFurther,
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var action string
	var content string

	cmd := &cobra.Command{
		Use:   "resolve <session-id>",
		Short: "Resolve a pending escalation",
		Long: `Resolve a blocked session's escalation. Interactive terminals get a
prompt for the action and response; otherwise pass --action (and
optionally --content) explicitly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args[0], action, content)
		},
	}
	cmd.Flags().StringVarP(&action, "action", "a", "", "Resolution action (answer|decide|unblock|abort|escalate_further)")
	cmd.Flags().StringVarP(&content, "content", "m", "", "Response content for the blocked session")
	return cmd
}

func runResolve(opts *rootOptions, sessionID, action, content string) error {
	client := newAPIClient(opts.serverAddr)

	var session hierarchy.Session
	if err := client.get("/api/sessions/"+sessionID, &session); err != nil {
		return err
	}
	if session.Escalation == nil {
		return fmt.Errorf("session %s has no pending escalation", sessionID)
	}

	esc := session.Escalation
	fmt.Printf("%s %s\n", statusBadge(session.AgentStatus), sessionID)
	fmt.Printf("%s: %s\n", esc.Type, esc.Summary)
	if esc.Context != "" {
		fmt.Printf("context: %s\n", esc.Context)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if action == "" {
		if !interactive {
			return fmt.Errorf("--action is required when not running interactively")
		}
		picked, err := promptAction()
		if err != nil {
			return err
		}
		action = picked
	}
	if content == "" && interactive && needsContent(hierarchy.ResolutionAction(action)) {
		answered, err := promptContent(esc.Options)
		if err != nil {
			return err
		}
		content = answered
	}

	var resolved hierarchy.Session
	err := client.post("/api/sessions/"+sessionID+"/resolve", hierarchy.Resolution{
		Action:  hierarchy.ResolutionAction(action),
		Content: content,
	}, &resolved)
	if err != nil {
		return err
	}
	fmt.Printf("resolved: %s is now %s\n", resolved.ID, statusBadge(resolved.AgentStatus))
	return nil
}

func promptAction() (string, error) {
	items := make([]string, len(resolutionActions))
	for i, a := range resolutionActions {
		items[i] = string(a)
	}
	prompt := promptui.Select{
		Label: "Resolution action",
		Items: items,
	}
	_, picked, err := prompt.Run()
	return picked, err
}

func promptContent(options []string) (string, error) {
	// When the escalation carries preset options, picking one beats typing.
	if len(options) > 0 {
		items := append([]string{}, options...)
		items = append(items, "(free-form answer)")
		sel := promptui.Select{Label: "Response", Items: items}
		idx, picked, err := sel.Run()
		if err != nil {
			return "", err
		}
		if idx < len(options) {
			return picked, nil
		}
	}
	prompt := promptui.Prompt{Label: "Response"}
	return prompt.Run()
}

// needsContent reports whether the action usually carries a response body.
func needsContent(action hierarchy.ResolutionAction) bool {
	switch action {
	case hierarchy.ActionAnswer, hierarchy.ActionDecide:
		return true
	default:
		return false
	}
}
