package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"orchestra/internal/operations"

	"github.com/spf13/cobra"
)

// EventCommands creates commands that raise external events
func EventCommands(opts *Options) []*cobra.Command {
	// orchestra event send <name> <worktree-id> [key=value...]
	sendCmd := &cobra.Command{
		Use:   "send <namespace:name> <worktree-id> [key=value...]",
		Short: "Raise an external event for a worktree",
		Long: `Raise an event such as ci:passed for a worktree. The zone holding the
worktree evaluates its triggers for the event. Payload keys are given as
key=value pairs or as a JSON object with --data.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			payload, err := parsePayload(data, args[2:])
			if err != nil {
				return err
			}

			client, err := opts.Client()
			if err != nil {
				return err
			}
			queued, err := client.SendEvent(cmd.Context(), operations.ExternalEvent{
				Name:       args[0],
				WorktreeID: args[1],
				Payload:    payload,
			})
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, map[string]bool{"queued": queued}, func(out io.Writer) error {
				if queued {
					fmt.Fprintf(out, "Queued %s for %s\n", args[0], args[1])
				} else {
					fmt.Fprintf(out, "Worktree %s is in no zone, nothing queued\n", args[1])
				}
				return nil
			})
		},
	}
	sendCmd.Flags().String("data", "", "JSON object payload")

	return []*cobra.Command{sendCmd}
}

// parsePayload merges a JSON object with key=value pairs; pairs win
func parsePayload(data string, pairs []string) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, fmt.Errorf("invalid --data: %w", err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid payload pair %q, expected key=value", pair)
		}
		payload[k] = v
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
