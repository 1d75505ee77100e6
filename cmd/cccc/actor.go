package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var actorCmd = &cobra.Command{
	Use:   "actor",
	Short: "Manage actors in a group",
}

var actorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actors",
	RunE:  runActorList,
}

var actorAddCmd = &cobra.Command{
	Use:   "add <actor-id>",
	Short: "Add an actor",
	Long: `Add an actor to the group. The launch command comes from --runtime
(claude, codex, gemini, aider) or an explicit --command.

Examples:
  cccc actor add lead --runtime claude
  cccc actor add worker --command "python,agent.py" --title Worker`,
	Args: exactArgs(1),
	RunE: runActorAdd,
}

var actorRemoveCmd = &cobra.Command{
	Use:   "remove <actor-id>",
	Short: "Remove an actor",
	Args:  exactArgs(1),
	RunE:  runActorRemove,
}

var actorUpdateCmd = &cobra.Command{
	Use:   "update <actor-id>",
	Short: "Update an actor's configuration",
	Args:  exactArgs(1),
	RunE:  runActorUpdate,
}

var actorStartCmd = &cobra.Command{
	Use:   "start <actor-id>",
	Short: "Start an actor's PTY session",
	Args:  exactArgs(1),
	RunE:  actorOpRunner("actor_start", "started"),
}

var actorStopCmd = &cobra.Command{
	Use:   "stop <actor-id>",
	Short: "Stop an actor's PTY session",
	Args:  exactArgs(1),
	RunE:  actorOpRunner("actor_stop", "stopped"),
}

var actorRestartCmd = &cobra.Command{
	Use:   "restart <actor-id>",
	Short: "Restart an actor's PTY session",
	Args:  exactArgs(1),
	RunE:  actorOpRunner("actor_restart", "restarted"),
}

func init() {
	actorAddCmd.Flags().String("title", "", "display title")
	actorAddCmd.Flags().String("runtime", "", "runtime name from settings (claude, codex, ...)")
	actorAddCmd.Flags().String("command", "", "launch command, comma-separated argv")
	actorAddCmd.Flags().String("submit", "", "input submit mode: enter, newline or none")
	actorAddCmd.Flags().String("runner", "", "runner kind: pty or headless")
	actorAddCmd.Flags().Bool("disabled", false, "add the actor disabled")

	actorUpdateCmd.Flags().String("title", "", "display title")
	actorUpdateCmd.Flags().String("runtime", "", "runtime name from settings")
	actorUpdateCmd.Flags().String("command", "", "launch command, comma-separated argv")
	actorUpdateCmd.Flags().String("submit", "", "input submit mode")
	actorUpdateCmd.Flags().Bool("enabled", true, "enable or disable the actor")

	actorCmd.AddCommand(actorListCmd, actorAddCmd, actorRemoveCmd, actorUpdateCmd,
		actorStartCmd, actorStopCmd, actorRestartCmd)
	rootCmd.AddCommand(actorCmd)
}

func runActorList(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	raw, err := client().Call("actor_list", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res struct {
		Actors []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Role    string `json:"role"`
			Enabled bool   `json:"enabled"`
			Running bool   `json:"running"`
		} `json:"actors"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if len(res.Actors) == 0 {
		fmt.Println("No actors")
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "ACTOR\tTITLE\tROLE\tSTATE")
	for _, a := range res.Actors {
		state := "stopped"
		switch {
		case a.Running:
			state = "running"
		case !a.Enabled:
			state = "disabled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Title, a.Role, state)
	}
	return w.Flush()
}

func splitCommand(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func runActorAdd(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")
	runtime, _ := cmd.Flags().GetString("runtime")
	command, _ := cmd.Flags().GetString("command")
	submit, _ := cmd.Flags().GetString("submit")
	runner, _ := cmd.Flags().GetString("runner")
	disabled, _ := cmd.Flags().GetBool("disabled")

	callArgs["actor"] = map[string]any{
		"id":      args[0],
		"title":   title,
		"runtime": runtime,
		"command": splitCommand(command),
		"submit":  submit,
		"runner":  runner,
		"enabled": !disabled,
	}
	if _, err := client().Call("actor_add", callArgs); err != nil {
		return err
	}
	fmt.Printf("Added actor %s\n", args[0])
	return nil
}

func runActorRemove(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	callArgs["actor_id"] = args[0]
	if _, err := client().Call("actor_remove", callArgs); err != nil {
		return err
	}
	fmt.Printf("Removed actor %s\n", args[0])
	return nil
}

func runActorUpdate(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	patch := map[string]any{}
	if cmd.Flags().Changed("title") {
		title, _ := cmd.Flags().GetString("title")
		patch["title"] = title
	}
	if cmd.Flags().Changed("runtime") {
		runtime, _ := cmd.Flags().GetString("runtime")
		patch["runtime"] = runtime
	}
	if cmd.Flags().Changed("command") {
		command, _ := cmd.Flags().GetString("command")
		patch["command"] = splitCommand(command)
	}
	if cmd.Flags().Changed("submit") {
		submit, _ := cmd.Flags().GetString("submit")
		patch["submit"] = submit
	}
	if cmd.Flags().Changed("enabled") {
		enabled, _ := cmd.Flags().GetBool("enabled")
		patch["enabled"] = enabled
	}
	if len(patch) == 0 {
		return fmt.Errorf("nothing to update")
	}
	callArgs["actor_id"] = args[0]
	callArgs["patch"] = patch
	if _, err := client().Call("actor_update", callArgs); err != nil {
		return err
	}
	fmt.Printf("Updated actor %s\n", args[0])
	return nil
}

func actorOpRunner(op, done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		callArgs, err := groupArgs()
		if err != nil {
			return err
		}
		callArgs["actor_id"] = args[0]
		raw, err := client().Call(op, callArgs)
		if err != nil {
			return err
		}
		if jsonOut {
			return printResult(raw)
		}
		fmt.Printf("Actor %s %s\n", args[0], done)
		return nil
	}
}
