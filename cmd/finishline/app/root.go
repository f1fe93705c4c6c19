// Package app provides the commands of the finishline CLI.
package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intermernet/finishline/internal/gateway"
	"github.com/intermernet/finishline/pkg/logging"
)

// EnvPrefix prefixes every environment variable the CLI reads, e.g.
// FINISHLINE_SERVER or FINISHLINE_RECONNECT_MIN.
const EnvPrefix = "FINISHLINE"

var rootCmd = &cobra.Command{
	Use:   "finishline",
	Short: "Live race finisher leaderboard",
	Long: `finishline follows the live leaderboard kept by a finishline authority and
sends admin commands to it.

Every flag can also be set through the environment, e.g. FINISHLINE_SERVER.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogging()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "Authority base URL")
	flags.String("stream", "", "Push channel URL (default <server>/api/stream)")
	flags.String("token", "", "Admin token from 'finishline login'")
	flags.Duration("timeout", gateway.DefaultTimeout, "Bound on every command")
	flags.Duration("reconnect-min", time.Second, "First delay before reconnecting the push channel")
	flags.Duration("reconnect-max", 5*time.Second, "Longest delay before reconnecting the push channel")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-file", "", "Write logs here instead of stderr")

	for _, name := range []string{"server", "stream", "token", "timeout", "reconnect-min", "reconnect-max", "log-level", "log-file"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(addCmd, editCmd, deleteCmd, reorderCmd)
	rootCmd.AddCommand(loginCmd, clockCmd, rosterCmd, hashPasswordCmd)

	return rootCmd
}

func setupLogging() error {
	var w io.Writer = os.Stderr
	if path := viper.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		w = f
	}
	slog.SetDefault(logging.New(w, logging.ParseLevel(viper.GetString("log-level"))))
	return nil
}

// newClient builds the gateway from the bound flags.
func newClient(opts ...gateway.Option) (*gateway.Client, error) {
	opts = append([]gateway.Option{
		gateway.WithTimeout(viper.GetDuration("timeout")),
		gateway.WithToken(viper.GetString("token")),
	}, opts...)
	return gateway.New(viper.GetString("server"), opts...)
}

// streamURL is the --stream flag, or the stream endpoint of the authority.
func streamURL(c *gateway.Client) string {
	if s := viper.GetString("stream"); s != "" {
		return s
	}
	return c.StreamURL()
}
