// Command skycover works on serialized coverage sets offline: sky fractions,
// set algebra, point and catalogue membership, format conversion. It can also
// announce dataset changes to running coverage servers.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/sky-coverage/internal/logger"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

var Version = "dev"

type rootOpts struct {
	frame    string
	logLevel string
	log      *slog.Logger
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	o := &rootOpts{}
	root := &cobra.Command{
		Use:           "skycover",
		Short:         "Inspect and combine HEALPix sky coverage sets",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			zl := logger.Build(logger.Config{Level: o.logLevel, Console: true, Service: "skycover", Component: cmd.Name()}, cmd.ErrOrStderr())
			o.log = logger.NewSlog(&zl)
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&o.frame, "frame", "icrs", "frame of the coverage files (icrs|galactic)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newFractionCmd(o),
		newSetOpCmd(o, "intersect", "Area covered by both sets", (*moc.MOC).Intersect),
		newSetOpCmd(o, "union", "Area covered by either set", (*moc.MOC).Union),
		newSetOpCmd(o, "difference", "Area of A not covered by B", (*moc.MOC).Difference),
		newContainsCmd(o),
		newFilterCmd(o),
		newConvertCmd(o),
		newNotifyCmd(o),
	)
	return root
}

// readMOC loads a coverage file; "-" reads stdin.
func (o *rootOpts) readMOC(cmd *cobra.Command, path string) (*moc.MOC, error) {
	frame, err := moc.ParseFrame(o.frame)
	if err != nil {
		return nil, err
	}
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := moc.Deserialize(data, frame)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	o.log.Debug("coverage loaded", "path", path, "cells", m.Len(), "max_order", m.MaxOrder())
	return m, nil
}

// writeMOC writes m to path, or to the command output when path is empty.
func writeMOC(cmd *cobra.Command, m *moc.MOC, format, path string) error {
	f, err := moc.ParseFormat(format)
	if err != nil {
		return err
	}
	b, err := m.Serialize(f)
	if err != nil {
		return err
	}
	if path == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
