package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach [path]",
	Short: "Attach the current project to a group",
	Long: `Derive a scope from the project directory (its git remote, or the
directory itself) and bind it to a group: the one named with --group-id,
the scope's registered default, or a newly created group.

Examples:
  cccc attach
  cccc attach ~/src/myproject
  cccc attach --group-id g_a1b2c3d4e5f6`,
	Args: maximumArgs(1),
	RunE: runAttach,
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a group",
	RunE:  runGroupCreate,
}

var groupShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show group configuration and runtime state",
	RunE:  runGroupShow,
}

var groupUseCmd = &cobra.Command{
	Use:   "use <scope-key>",
	Short: "Switch the group's active scope",
	Args:  exactArgs(1),
	RunE:  runGroupUse,
}

var groupUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update group title or topic",
	RunE:  runGroupUpdate,
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a group and all its state",
	RunE:  runGroupDelete,
}

var groupStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start all enabled actors",
	RunE:  runGroupStart,
}

var groupStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop all running actors",
	RunE:  runGroupStop,
}

var groupPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause automation (actors keep running)",
	RunE:  func(cmd *cobra.Command, args []string) error { return setGroupState(true) },
}

var groupResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume automation",
	RunE:  func(cmd *cobra.Command, args []string) error { return setGroupState(false) },
}

var groupDetachCmd = &cobra.Command{
	Use:   "detach-scope <scope-key>",
	Short: "Detach a scope from the group",
	Args:  exactArgs(1),
	RunE:  runGroupDetachScope,
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List all groups",
	RunE:  runGroups,
}

func init() {
	groupCreateCmd.Flags().String("title", "", "group title")
	groupCreateCmd.Flags().String("topic", "", "group topic")
	groupCreateCmd.Flags().String("template", "", "YAML template file to apply")

	groupUpdateCmd.Flags().String("title", "", "new title")
	groupUpdateCmd.Flags().String("topic", "", "new topic")

	groupDeleteCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	groupCmd.AddCommand(groupCreateCmd, groupShowCmd, groupUseCmd, groupUpdateCmd,
		groupDeleteCmd, groupStartCmd, groupStopCmd, groupPauseCmd, groupResumeCmd, groupDetachCmd)
	rootCmd.AddCommand(attachCmd, groupCmd, groupsCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := os.Getwd()
	if err == nil && path == "." {
		path = abs
	}
	raw, err := client().Call("attach", map[string]any{
		"path": path, "group_id": flagGroupID, "by": callerBy(),
	})
	if err != nil {
		return err
	}
	var res struct {
		GroupID  string `json:"group_id"`
		ScopeKey string `json:"scope_key"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if err := setActiveGroup(res.GroupID); err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	fmt.Printf("Attached scope %s to group %s\n", res.ScopeKey, res.GroupID)
	return nil
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	topic, _ := cmd.Flags().GetString("topic")
	templatePath, _ := cmd.Flags().GetString("template")

	callArgs := map[string]any{"title": title, "topic": topic, "by": callerBy()}
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		callArgs["template"] = string(data)
	}
	raw, err := client().Call("group_create", callArgs)
	if err != nil {
		return err
	}
	var res struct {
		GroupID string `json:"group_id"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if err := setActiveGroup(res.GroupID); err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	fmt.Printf("Created group %s\n", res.GroupID)
	return nil
}

func groupArgs() (map[string]any, error) {
	gid, err := resolveGroupID()
	if err != nil {
		return nil, err
	}
	return map[string]any{"group_id": gid, "by": callerBy()}, nil
}

func runGroupShow(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	raw, err := client().Call("group_show", callArgs)
	if err != nil {
		return err
	}
	return printResult(raw)
}

func runGroupUse(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	callArgs["scope_key"] = args[0]
	raw, err := client().Call("group_use", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	fmt.Printf("Active scope is now %s\n", args[0])
	return nil
}

func runGroupUpdate(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("title") {
		title, _ := cmd.Flags().GetString("title")
		callArgs["title"] = title
	}
	if cmd.Flags().Changed("topic") {
		topic, _ := cmd.Flags().GetString("topic")
		callArgs["topic"] = topic
	}
	if _, err := client().Call("group_update", callArgs); err != nil {
		return err
	}
	fmt.Println("Group updated")
	return nil
}

func runGroupDelete(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		fmt.Printf("Delete group %s and all its history? [y/N]: ", callArgs["group_id"])
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}
	if _, err := client().Call("group_delete", callArgs); err != nil {
		return err
	}
	fmt.Printf("Deleted group %s\n", callArgs["group_id"])
	return nil
}

func runGroupStart(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	raw, err := client().Call("group_start", callArgs)
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	fmt.Println("Group started")
	return nil
}

func runGroupStop(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	if _, err := client().Call("group_stop", callArgs); err != nil {
		return err
	}
	fmt.Println("Group stopped")
	return nil
}

func setGroupState(paused bool) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	callArgs["paused"] = paused
	if _, err := client().Call("group_set_state", callArgs); err != nil {
		return err
	}
	if paused {
		fmt.Println("Group paused: automation off, actors keep running")
	} else {
		fmt.Println("Group resumed")
	}
	return nil
}

func runGroupDetachScope(cmd *cobra.Command, args []string) error {
	callArgs, err := groupArgs()
	if err != nil {
		return err
	}
	callArgs["scope_key"] = args[0]
	raw, err := client().Call("group_detach_scope", callArgs)
	if err != nil {
		return err
	}
	return printResult(raw)
}

func runGroups(cmd *cobra.Command, args []string) error {
	raw, err := client().Call("groups", map[string]any{"by": callerBy()})
	if err != nil {
		return err
	}
	if jsonOut {
		return printResult(raw)
	}
	var res struct {
		Groups []struct {
			GroupID string `json:"group_id"`
			Title   string `json:"title"`
			Path    string `json:"path"`
			Running bool   `json:"running"`
		} `json:"groups"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if len(res.Groups) == 0 {
		fmt.Println("No groups")
		return nil
	}
	sort.Slice(res.Groups, func(i, j int) bool { return res.Groups[i].GroupID < res.Groups[j].GroupID })
	w := newTable()
	fmt.Fprintln(w, "GROUP\tTITLE\tPATH\tSTATE")
	for _, g := range res.Groups {
		state := "stopped"
		if g.Running {
			state = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.GroupID, g.Title, g.Path, state)
	}
	return w.Flush()
}
