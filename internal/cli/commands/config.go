package commands

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"orchestra/internal/config"
	"orchestra/internal/logger"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ConfigCommands creates configuration management commands
func ConfigCommands(opts *Options) []*cobra.Command {
	commands := []*cobra.Command{}

	// orchestra config init
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
			}
			if err := config.DefaultGlobalConfig().Save(path); err != nil {
				return err
			}
			logger.WithField("path", path).Info("Configuration initialized")
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	commands = append(commands, initCmd)

	// orchestra config path
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	commands = append(commands, pathCmd)

	// orchestra config show
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  "Show the configuration after defaults are applied and paths expanded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobalConfig(opts.ConfigPath)
			if err != nil {
				return HandleError(err)
			}
			return opts.render(cmd, cfg, func(out io.Writer) error {
				data, err := toml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			})
		},
	}
	commands = append(commands, showCmd)

	// orchestra config validate [file]
	validateCmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := config.LoadGlobalConfig(path); err != nil {
				return HandleError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
	commands = append(commands, validateCmd)

	// orchestra config get <key>
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value, e.g. ports.min",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadGlobalConfig(opts.ConfigPath)
			if err != nil {
				return HandleError(err)
			}
			value, err := lookupKey(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	commands = append(commands, getCmd)

	// orchestra config set <key> <value>
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a value in the configuration file. The file is only written when the result is valid.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			if err := setConfigValue(path, args[0], args[1]); err != nil {
				return HandleError(err)
			}
			logger.WithFields(logger.Fields{"key": args[0], "value": args[1], "path": path}).Info("Configuration value set")
			return nil
		},
	}
	commands = append(commands, setCmd)

	// orchestra config edit
	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Open the configuration file in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("configuration file not found: %s (run 'orchestra config init')", path)
			}

			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			c := exec.CommandContext(cmd.Context(), editor, path)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("failed to open editor: %w", err)
			}

			if _, err := config.LoadGlobalConfig(path); err != nil {
				return HandleError(err)
			}
			return nil
		},
	}
	commands = append(commands, editCmd)

	return commands
}

func (o *Options) configPath() (string, error) {
	if o.ConfigPath != "" {
		return o.ConfigPath, nil
	}
	return config.DefaultConfigPath()
}

// configMap round-trips cfg through TOML into nested maps keyed like the file
func configMap(cfg *config.GlobalConfig) (map[string]interface{}, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func lookupKey(cfg *config.GlobalConfig, key string) (string, error) {
	m, err := configMap(cfg)
	if err != nil {
		return "", err
	}

	parts := strings.Split(key, ".")
	var current interface{} = m
	for _, part := range parts {
		section, ok := current.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("key not found: %s", key)
		}
		if current, ok = section[part]; !ok {
			return "", fmt.Errorf("key not found: %s", key)
		}
	}

	switch v := current.(type) {
	case map[string]interface{}:
		data, err := toml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case []interface{}:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = fmt.Sprint(item)
		}
		return strings.Join(items, ","), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func setConfigValue(path, key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return fmt.Errorf("invalid key format, use section.key")
	}

	raw := map[string]interface{}{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if raw, err = configMap(config.DefaultGlobalConfig()); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = parseValue(value)

	output, err := toml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Validate through a scratch file so a bad value never replaces a good config
	tmp, err := os.CreateTemp("", "orchestra-config-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(output); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	cfg, err := config.LoadGlobalConfig(tmp.Name())
	if err != nil {
		return err
	}
	if _, err := lookupKey(cfg, key); err != nil {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	return config.WriteRaw(path, output)
}

func parseValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if strings.Contains(value, ",") {
		items := strings.Split(value, ",")
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
		return items
	}
	return value
}
