package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"orchestra/internal/db"
	"orchestra/internal/operations"

	"github.com/spf13/cobra"
)

// WorktreeCommands creates worktree management commands
func WorktreeCommands(opts *Options) []*cobra.Command {
	commands := []*cobra.Command{}

	// orchestra worktree add <branch>
	addCmd := &cobra.Command{
		Use:   "add <branch>",
		Short: "Create a worktree for a branch",
		Long: `Create a worktree with:
  - a dedicated port from the configured range
  - a checkout of the branch, created from HEAD when it does not exist
  - optional task, issue and zone bindings`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			issue, _ := cmd.Flags().GetString("issue")
			task, _ := cmd.Flags().GetString("task")
			zoneRef, _ := cmd.Flags().GetString("zone")

			req := operations.CreateWorktreeRequest{BranchName: args[0], IssueURL: issue, TaskID: task}
			if zoneRef != "" {
				zone, err := client.ResolveZone(cmd.Context(), zoneRef)
				if err != nil {
					return HandleError(err)
				}
				req.ZoneID = zone.ID
			}

			w, err := client.CreateWorktree(cmd.Context(), req)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, w, func(out io.Writer) error {
				fmt.Fprintf(out, "Created worktree %s\n", w.ID)
				fmt.Fprintf(out, "  Branch: %s\n", w.BranchName)
				fmt.Fprintf(out, "  Port:   %d\n", w.Port)
				fmt.Fprintf(out, "  Path:   %s\n", w.Path)
				return nil
			})
		},
	}
	addCmd.Flags().String("issue", "", "GitHub issue or pull request URL")
	addCmd.Flags().String("task", "", "Task identifier")
	addCmd.Flags().StringP("zone", "z", "", "Zone id or name to join")
	commands = append(commands, addCmd)

	// orchestra worktree list
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List worktrees",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			filters := map[string]string{}
			for _, name := range []string{"status", "task_id", "branch_name"} {
				v, _ := cmd.Flags().GetString(strings.ReplaceAll(name, "_", "-"))
				filters[name] = v
			}

			worktrees, err := client.ListWorktrees(cmd.Context(), filters)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, worktrees, func(out io.Writer) error {
				if len(worktrees) == 0 {
					fmt.Fprintln(out, "No worktrees found")
					return nil
				}
				return printWorktreeTable(out, worktrees)
			})
		},
	}
	listCmd.Flags().String("status", "", "Filter by status")
	listCmd.Flags().String("task-id", "", "Filter by task id")
	listCmd.Flags().String("branch-name", "", "Filter by branch")
	commands = append(commands, listCmd)

	// orchestra worktree get <id>
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			w, err := client.GetWorktree(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, w, func(out io.Writer) error {
				return printWorktreeTable(out, []*db.Worktree{w})
			})
		},
	}
	commands = append(commands, getCmd)

	// orchestra worktree update <id>
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the status or task of a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}

			var update operations.WorktreeUpdate
			if cmd.Flags().Changed("status") {
				s, _ := cmd.Flags().GetString("status")
				status := db.WorktreeStatus(s)
				update.Status = &status
			}
			if cmd.Flags().Changed("task") {
				task, _ := cmd.Flags().GetString("task")
				update.TaskID = &task
			}
			if update.Status == nil && update.TaskID == nil {
				return fmt.Errorf("nothing to update: pass --status or --task")
			}

			w, err := client.UpdateWorktree(cmd.Context(), args[0], update)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, w, func(out io.Writer) error {
				fmt.Fprintf(out, "Worktree %s is %s\n", w.ID, w.Status)
				return nil
			})
		},
	}
	updateCmd.Flags().String("status", "", "New status (active, stopped, error, deleted)")
	updateCmd.Flags().String("task", "", "New task id")
	commands = append(commands, updateCmd)

	// orchestra worktree rm <id>
	removeCmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete a worktree",
		Long:    "Remove the checkout, release the port and mark the worktree deleted. Deleting twice is a no-op.",
		Aliases: []string{"remove", "delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			w, err := client.DeleteWorktree(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, w, func(out io.Writer) error {
				fmt.Fprintf(out, "Deleted worktree %s (%s)\n", w.ID, w.BranchName)
				return nil
			})
		},
	}
	commands = append(commands, removeCmd)

	// orchestra worktree exec <id> -- <command...>
	execCmd := &cobra.Command{
		Use:   "exec <id> -- <command...>",
		Short: "Run an allow-listed command inside a worktree",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			res, err := client.RunCommand(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return HandleError(err)
			}
			if err := opts.render(cmd, res, func(out io.Writer) error {
				fmt.Fprint(out, res.Output)
				return nil
			}); err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("command exited with status %d", res.ExitCode)
			}
			return nil
		},
	}
	commands = append(commands, execCmd)

	// orchestra worktree stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show worktree counts and port utilization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			stats, err := client.WorktreeStats(cmd.Context())
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, stats, func(out io.Writer) error {
				fmt.Fprintf(out, "Worktrees: %d\n", stats.Total)
				statuses := make([]string, 0, len(stats.ByStatus))
				for s := range stats.ByStatus {
					statuses = append(statuses, string(s))
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					fmt.Fprintf(out, "  %-9s %d\n", s, stats.ByStatus[db.WorktreeStatus(s)])
				}
				fmt.Fprintf(out, "Ports: %d/%d in use (%d-%d)\n", stats.Ports.Allocated, stats.Ports.Total, stats.Ports.Min, stats.Ports.Max)
				return nil
			})
		},
	}
	commands = append(commands, statsCmd)

	// orchestra worktree reconcile
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair worktrees whose checkout or port is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			report, err := client.Reconcile(cmd.Context())
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, report, func(out io.Writer) error {
				fmt.Fprintf(out, "Purged:  %d\n", len(report.Purged))
				fmt.Fprintf(out, "Deleted: %d\n", len(report.Deleted))
				fmt.Fprintf(out, "Errored: %d\n", len(report.Errored))
				fmt.Fprintf(out, "Pruned:  %d\n", len(report.Pruned))
				for _, f := range report.Failures {
					fmt.Fprintf(out, "  failure: %s\n", f)
				}
				return nil
			})
		},
	}
	commands = append(commands, reconcileCmd)

	return commands
}

func printWorktreeTable(out io.Writer, worktrees []*db.Worktree) error {
	w := newTable(out)
	fmt.Fprintln(w, "ID\tBRANCH\tSTATUS\tPORT\tTASK\tPATH")
	for _, wt := range worktrees {
		port := "-"
		if wt.Port != 0 {
			port = fmt.Sprint(wt.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			wt.ID,
			wt.BranchName,
			wt.Status,
			port,
			orDash(wt.TaskID),
			wt.Path,
		)
	}
	return w.Flush()
}
