package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"orchestra/internal/api"
	"orchestra/internal/config"

	"github.com/spf13/cobra"
)

// ServerEnv names the environment variable holding the server address
const ServerEnv = "ORCHESTRA_SERVER"

// Options are the global flags shared by every command
type Options struct {
	ServerURL  string
	ConfigPath string
	Output     string
	LogLevel   string

	client *api.APIClient
}

// Client returns the API client for the configured server. The address comes
// from --server, then ORCHESTRA_SERVER, then the [server] config section.
func (o *Options) Client() (*api.APIClient, error) {
	if o.client != nil {
		return o.client, nil
	}

	addr := o.ServerURL
	if addr == "" {
		addr = os.Getenv(ServerEnv)
	}
	if addr == "" {
		cfg, err := config.LoadGlobalConfig(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	o.client = api.NewAPIClient(addr)
	return o.client, nil
}

// JSON reports whether output should be JSON instead of a table
func (o *Options) JSON() bool {
	return o.Output == "json"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// render prints v as JSON, or calls table when table output is selected
func (o *Options) render(cmd *cobra.Command, v interface{}, table func(w io.Writer) error) error {
	out := cmd.OutOrStdout()
	if o.JSON() {
		return printJSON(out, v)
	}
	return table(out)
}
