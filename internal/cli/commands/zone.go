package commands

import (
	"fmt"
	"io"
	"strings"

	"orchestra/internal/config"
	"orchestra/internal/db"
	"orchestra/internal/operations"

	"github.com/spf13/cobra"
)

// ZoneCommands creates zone management commands
func ZoneCommands(opts *Options) []*cobra.Command {
	commands := []*cobra.Command{}

	// orchestra zone create <name>
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty zone",
		Long:  "Create a zone without triggers. Use 'orchestra zone apply' to manage triggers declaratively.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("description")
			zone, err := client.CreateZone(cmd.Context(), operations.ZoneInput{Name: args[0], Description: description})
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, zone, func(out io.Writer) error {
				fmt.Fprintf(out, "Created zone %s (%s)\n", zone.Name, zone.ID)
				return nil
			})
		},
	}
	createCmd.Flags().StringP("description", "d", "", "Zone description")
	commands = append(commands, createCmd)

	// orchestra zone list
	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List zones",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zones, err := client.ListZones(cmd.Context())
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, zones, func(out io.Writer) error {
				if len(zones) == 0 {
					fmt.Fprintln(out, "No zones found")
					return nil
				}
				w := newTable(out)
				fmt.Fprintln(w, "ID\tNAME\tWORKTREES\tTRIGGERS\tDESCRIPTION")
				for _, z := range zones {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", z.ID, z.Name, len(z.WorktreeIDs), len(z.Triggers), orDash(z.Description))
				}
				return w.Flush()
			})
		},
	}
	commands = append(commands, listCmd)

	// orchestra zone get <zone>
	getCmd := &cobra.Command{
		Use:   "get <zone>",
		Short: "Show a zone with its members and triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zone, err := client.ResolveZone(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, zone, func(out io.Writer) error {
				printZone(out, zone)
				return nil
			})
		},
	}
	commands = append(commands, getCmd)

	// orchestra zone rm <zone>
	removeCmd := &cobra.Command{
		Use:     "rm <zone>",
		Short:   "Delete a zone, detaching its worktrees",
		Aliases: []string{"remove", "delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zone, err := client.ResolveZone(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			if err := client.DeleteZone(cmd.Context(), zone.ID); err != nil {
				return HandleError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted zone %s\n", zone.Name)
			return nil
		},
	}
	commands = append(commands, removeCmd)

	// orchestra zone assign <zone> <worktree-id>
	assignCmd := &cobra.Command{
		Use:   "assign <zone> <worktree-id>",
		Short: "Add a worktree to a zone, moving it out of its current zone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zone, err := client.ResolveZone(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			updated, err := client.AssignWorktree(cmd.Context(), zone.ID, args[1])
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, updated, func(out io.Writer) error {
				fmt.Fprintf(out, "Assigned %s to zone %s\n", args[1], updated.Name)
				return nil
			})
		},
	}
	commands = append(commands, assignCmd)

	// orchestra zone unassign <zone> <worktree-id>
	unassignCmd := &cobra.Command{
		Use:   "unassign <zone> <worktree-id>",
		Short: "Remove a worktree from a zone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zone, err := client.ResolveZone(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			if err := client.RemoveWorktree(cmd.Context(), zone.ID, args[1]); err != nil {
				return HandleError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from zone %s\n", args[1], zone.Name)
			return nil
		},
	}
	commands = append(commands, unassignCmd)

	// orchestra zone apply -f zones.yaml
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update zones from a YAML, JSON or JSONC file",
		Long: `Apply zone definitions by name. Zones that exist get their description and
triggers replaced; their worktree membership is kept. Nothing is written
when any definition is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			zf, err := config.LoadZoneFile(path)
			if err != nil {
				return HandleError(err)
			}

			client, err := opts.Client()
			if err != nil {
				return err
			}
			report, err := client.ApplyZones(cmd.Context(), zf)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, report, func(out io.Writer) error {
				fmt.Fprintf(out, "Created: %s\n", orDash(strings.Join(report.Created, ", ")))
				fmt.Fprintf(out, "Updated: %s\n", orDash(strings.Join(report.Updated, ", ")))
				return nil
			})
		},
	}
	applyCmd.Flags().StringP("file", "f", "", "Zone definition file")
	commands = append(commands, applyCmd)

	// orchestra zone executions <zone>
	execCmd := &cobra.Command{
		Use:   "executions <zone>",
		Short: "Show recent trigger executions of a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.Client()
			if err != nil {
				return err
			}
			zone, err := client.ResolveZone(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			execs, err := client.ListExecutions(cmd.Context(), zone.ID, status, limit)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, execs, func(out io.Writer) error {
				if len(execs) == 0 {
					fmt.Fprintln(out, "No executions found")
					return nil
				}
				return printExecutions(out, execs)
			})
		},
	}
	execCmd.Flags().String("status", "", "Filter by status (running, succeeded, failed)")
	execCmd.Flags().IntP("limit", "n", 20, "Maximum number of executions")
	commands = append(commands, execCmd)

	return commands
}

func printZone(out io.Writer, z *db.Zone) {
	fmt.Fprintf(out, "Zone %s (%s)\n", z.Name, z.ID)
	if z.Description != "" {
		fmt.Fprintf(out, "  %s\n", z.Description)
	}
	fmt.Fprintf(out, "Worktrees: %s\n", orDash(strings.Join(z.WorktreeIDs, ", ")))
	fmt.Fprintln(out, "Triggers:")
	if len(z.Triggers) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, t := range z.Triggers {
		cond := ""
		if t.Condition != nil {
			cond = fmt.Sprintf(" if %s %s %q", t.Condition.Field, t.Condition.Operator, t.Condition.Value)
		}
		types := make([]string, 0, len(t.Actions))
		for _, a := range t.Actions {
			types = append(types, a.Type)
		}
		fmt.Fprintf(out, "  %s: on %s%s -> %s\n", t.ID, t.Event, cond, strings.Join(types, ", "))
	}
}

func printExecutions(out io.Writer, execs []*db.TriggerExecution) error {
	w := newTable(out)
	fmt.Fprintln(w, "STARTED\tTRIGGER\tEVENT\tWORKTREE\tSTATUS\tERROR")
	for _, e := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.TriggerID,
			e.Event,
			e.WorktreeID,
			e.Status,
			orDash(e.Error),
		)
	}
	return w.Flush()
}
