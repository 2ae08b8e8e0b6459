package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// ModeFlags holds the mode command's optional fields.
type ModeFlags struct {
	Mode   string
	Level  string
	Amount float64
	Metric string
	Buffer int
}

func buildRoot() *cobra.Command {
	g := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "xvbd",
		Short: "P2Pool and XvB hashrate allocation daemon",
		Long: `xvbd supervises a Monero node, P2Pool, xmrig and xmrig-proxy, and splits
the miner's hashrate between P2Pool and the XvB donation raffle.

Examples:
  xvbd serve --config=/etc/xvbd.toml
  xvbd status
  xvbd mode --mode=manual_xvb --amount=2.5 --metric=kilo
  xvbd process xmrig restart
  xvbd sudo --signal=start`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&g.APIUrl, "api-url", "", "daemon URL (default from config, e.g. http://127.0.0.1:18089/api)")
	root.PersistentFlags().DurationVar(&g.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		createServeCommand(g),
		createStatusCommand(g),
		createModeCommand(g, &ModeFlags{}),
		createProcessCommand(g),
		createSudoCommand(g),
		createConfigCommand(g),
		createConvertCommand(),
	)
	return root
}
