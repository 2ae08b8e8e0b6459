package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loykin/xvbd/internal/config"
	"github.com/loykin/xvbd/internal/hashrate"
)

func createConfigCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and upgrade configuration files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "default",
			Short: "Print the built-in configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := config.Marshal(config.Default())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			},
		},
		&cobra.Command{
			Use:   "merge <file>",
			Short: "Print a stored config upgraded onto the current defaults",
			Long: `Merge keeps every recognised value from the stored file, fills new
settings with defaults and drops settings that no longer exist.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := os.ReadFile(filepath.Clean(args[0]))
				if err != nil {
					return err
				}
				cfg, err := config.Merge(b)
				if err != nil {
					return err
				}
				out, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the file given by --config",
			RunE: func(cmd *cobra.Command, args []string) error {
				if g.ConfigPath == "" {
					return errors.New("--config is required")
				}
				cfg, err := config.Load(g.ConfigPath)
				if err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return err
				}
				for _, w := range cfg.Warnings() {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
	)
	return cmd
}

func createConvertCommand() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "convert <value>",
		Short: "Convert a hashrate between units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			f, err := hashrate.ParseUnit(from)
			if err != nil {
				return err
			}
			t, err := hashrate.ParseUnit(to)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%g %s\n", hashrate.Convert(v, f, t), t.Suffix())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "hash", "source unit")
	cmd.Flags().StringVar(&to, "to", "kilo", "target unit")
	return cmd
}
