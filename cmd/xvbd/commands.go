package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/xvbd/internal/config"
	tlsx "github.com/loykin/xvbd/internal/tls"
	"github.com/loykin/xvbd/pkg/client"
)

func newClient(g *GlobalFlags) (*client.Client, error) {
	cc := client.Config{BaseURL: g.APIUrl, Timeout: g.APITimeout}
	if cc.BaseURL == "" {
		cfg, err := config.Load(g.ConfigPath)
		if err != nil {
			return nil, err
		}
		cc.BaseURL = "http://" + cfg.General.APIListen + "/api"
		if cfg.General.TLS.Enabled {
			cc.BaseURL = "https://" + cfg.General.APIListen + "/api"
			cc.CACert = tlsx.CertPath(cfg.General.TLS)
		}
	}
	return client.New(cc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show allocation, pool and process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func createModeCommand(g *GlobalFlags, f *ModeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Change the allocation mode and its parameters",
		Long: `Change the allocation mode. Only flags given on the command line are sent.

Modes: auto, hero, manual_xvb, manual_p2pool, manual_donation_level
Levels: donor, vip, whale, mega
Metrics: hash, kilo, mega, giga`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := modeRequest(cmd, f)
			if req == (client.ModeRequest{}) {
				return errors.New("nothing to change")
			}
			c, err := newClient(g)
			if err != nil {
				return err
			}
			s, err := c.SetMode(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&f.Mode, "mode", "", "allocation mode")
	cmd.Flags().StringVar(&f.Level, "level", "", "donation level for manual_donation_level")
	cmd.Flags().Float64Var(&f.Amount, "amount", 0, "manual amount in --metric units")
	cmd.Flags().StringVar(&f.Metric, "metric", "", "unit of --amount")
	cmd.Flags().IntVar(&f.Buffer, "buffer", 0, "P2Pool buffer percent (-100..100)")
	return cmd
}

func modeRequest(cmd *cobra.Command, f *ModeFlags) client.ModeRequest {
	var req client.ModeRequest
	fl := cmd.Flags()
	if fl.Changed("mode") {
		req.Mode = &f.Mode
	}
	if fl.Changed("level") {
		req.DonationLevel = &f.Level
	}
	if fl.Changed("amount") {
		req.ManualAmount = &f.Amount
	}
	if fl.Changed("metric") {
		req.Metric = &f.Metric
	}
	if fl.Changed("buffer") {
		req.Buffer = &f.Buffer
	}
	return req
}

func createProcessCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "process <name> <start|stop|restart>",
		Short:     "Send a start, stop or restart signal to a supervised process",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"node", "p2pool", "xmrig", "xmrig_proxy"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(g)
			if err != nil {
				return err
			}
			if err := c.Signal(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s requested\n", args[0], args[1])
			return nil
		},
	}
}

func createSudoCommand(g *GlobalFlags) *cobra.Command {
	var (
		sig  string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sudo",
		Short: "Test a sudo password read from stdin, then apply a signal to xmrig",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			c, err := newClient(g)
			if err != nil {
				return err
			}
			if _, err := c.SubmitSecret(cmd.Context(), client.SudoRequest{Password: pw, Signal: sig}); err != nil {
				return err
			}
			st, err := waitSudo(cmd.Context(), c, wait)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), st.Message)
			if !st.Success {
				return errors.New("credential test failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sig, "signal", "start", "signal applied to xmrig on success")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for the result")
	return cmd
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func waitSudo(ctx context.Context, c *client.Client, wait time.Duration) (client.SudoState, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		st, err := c.SudoState(ctx)
		if err != nil {
			return st, err
		}
		if !st.Testing {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}
