package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpuflow"
	"github.com/gogpu/gpuflow/internal/config"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger

	// bindErr holds flag binding failures, reported before any command runs.
	bindErr error

	w io.Writer
	p *message.Printer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "gpuflow",
		Short: "Run GPU command sequences",
		Long: `gpuflow records, submits and reads back GPU work through the gpuflow
library. It picks the first driver that can open a device (wgpu, then the
software driver) unless --driver says otherwise.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.bindErr != nil {
				return a.bindErr
			}
			return a.init(cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.gpuflow/config.yaml)")
	flags.String("driver", "", "driver name (wgpu, soft); empty tries each")
	flags.String("adapter", "", "adapter name substring")
	flags.Int("retries", 0, "reinitialize and rerun this many times after a device loss")
	flags.Duration("timeout", 0, "wait timeout per submission")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	a.bindErr = a.bindFlags(cmd)

	cmd.AddCommand(
		newTriangleCmd(a),
		newComputeCmd(a),
		newCopyCmd(a),
		newDevicesCmd(a),
	)
	return cmd
}

// flagKeys maps config keys onto the persistent flags overriding them.
var flagKeys = []struct{ key, flag string }{
	{"device.driver", "driver"},
	{"device.adapter", "adapter"},
	{"retries", "retries"},
	{"submit.timeout", "timeout"},
	{"logging.level", "log-level"},
}

func (a *app) bindFlags(cmd *cobra.Command) error {
	var errs []error
	for _, k := range flagKeys {
		if err := a.v.BindPFlag(k.key, cmd.PersistentFlags().Lookup(k.flag)); err != nil {
			errs = append(errs, fmt.Errorf("bind --%s to %s: %w", k.flag, k.key, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) init(stdout, stderr io.Writer) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	gpuflow.SetLogger(a.log)

	a.w = stdout
	a.p = message.NewPrinter(language.English)
	return nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = a.p.Fprintf(a.w, format, args...)
}
