package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/sky-coverage/internal/catalogue"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

func newFractionCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "fraction FILE...",
		Short: "Print the share of the sky covered by each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range args {
				m, err := o.readMOC(cmd, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%.10g\t%d cells\torder %d\n", p, m.SkyFraction(), m.Len(), m.MaxOrder())
			}
			return tw.Flush()
		},
	}
}

type setOp func(a, b *moc.MOC) (*moc.MOC, error)

func newSetOpCmd(o *rootOpts, name, short string, op setOp) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   name + " A B",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.readMOC(cmd, args[0])
			if err != nil {
				return err
			}
			b, err := o.readMOC(cmd, args[1])
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := op(a, b)
			if err != nil {
				return err
			}
			o.log.Info(name, "cells", res.Len(), "sky_fraction", res.SkyFraction(), "took", time.Since(start))
			return writeMOC(cmd, res, format, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|ascii)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newContainsCmd(o *rootOpts) *cobra.Command {
	var pointFrame string
	cmd := &cobra.Command{
		Use:   "contains FILE LON LAT [LON LAT...]",
		Short: "Test points (degrees) for membership",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 3 || len(args)%2 != 1 {
				return errors.New("want FILE followed by LON LAT pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.readMOC(cmd, args[0])
			if err != nil {
				return err
			}
			frame, err := moc.ParseFrame(pointFrame)
			if err != nil {
				return err
			}
			pts := make([]moc.SkyPoint, 0, len(args)/2)
			for i := 1; i < len(args); i += 2 {
				lon, err := strconv.ParseFloat(args[i], 64)
				if err != nil {
					return fmt.Errorf("%w: %q", moc.ErrInvalidCoordinate, args[i])
				}
				lat, err := strconv.ParseFloat(args[i+1], 64)
				if err != nil {
					return fmt.Errorf("%w: %q", moc.ErrInvalidCoordinate, args[i+1])
				}
				pts = append(pts, moc.SkyPoint{Lon: lon, Lat: lat, Frame: frame})
			}

			inside, cerr := m.Contains(pts)
			invalid := map[int]bool{}
			var ce *moc.CoordinateError
			if u, ok := cerr.(interface{ Unwrap() []error }); ok {
				for _, e := range u.Unwrap() {
					if errors.As(e, &ce) {
						invalid[ce.Index] = true
					}
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, p := range pts {
				state := "outside"
				switch {
				case invalid[i]:
					state = "invalid"
				case inside[i]:
					state = "inside"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", state, fmtLon(p), fmtLat(p))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if cerr != nil {
				o.log.Warn("some points were invalid", "err", cerr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pointFrame, "point-frame", "icrs", "frame of the points (icrs|galactic)")
	return cmd
}

// fmtLon prints ICRS longitudes as right ascension and galactic ones in degrees.
func fmtLon(p moc.SkyPoint) string {
	if math.IsNaN(p.Lon) || p.Lon < 0 || p.Lon >= 360 {
		return strconv.FormatFloat(p.Lon, 'g', -1, 64)
	}
	if p.Frame == moc.FrameGalactic {
		return fmt.Sprintf("l=%.1d", sexa.FmtAngle(unit.AngleFromDeg(p.Lon)))
	}
	return fmt.Sprintf("%.2d", sexa.FmtRA(unit.RAFromDeg(p.Lon)))
}

func fmtLat(p moc.SkyPoint) string {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return strconv.FormatFloat(p.Lat, 'g', -1, 64)
	}
	return fmt.Sprintf("%+.1d", sexa.FmtAngle(unit.AngleFromDeg(p.Lat)))
}

func newFilterCmd(o *rootOpts) *cobra.Command {
	var mocPath, raCol, decCol, pointFrame, sep string
	cmd := &cobra.Command{
		Use:   "filter --moc FILE < catalogue.csv",
		Short: "Keep catalogue rows whose position lies inside the coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mocPath == "" {
				return errors.New("--moc is required")
			}
			m, err := o.readMOC(cmd, mocPath)
			if err != nil {
				return err
			}
			opts := catalogue.Options{LonColumn: raCol, LatColumn: decCol, Frame: moc.Frame(pointFrame)}
			if sep != "" {
				opts.Comma = []rune(sep)[0]
			}
			tab, rerr := catalogue.Read(cmd.InOrStdin(), opts)
			if tab == nil {
				return rerr
			}
			if rerr != nil {
				o.log.Warn("skipped catalogue rows", "err", rerr)
			}
			kept := catalogue.Filter(m, tab)
			o.log.Info("filtered", slog.Int("rows", len(tab.Rows)), slog.Int("kept", len(kept)))
			return catalogue.WriteCSV(cmd.OutOrStdout(), tab.Header, kept)
		},
	}
	cmd.Flags().StringVar(&mocPath, "moc", "", "coverage file")
	cmd.Flags().StringVar(&raCol, "ra", "ra", "longitude column")
	cmd.Flags().StringVar(&decCol, "dec", "dec", "latitude column")
	cmd.Flags().StringVar(&pointFrame, "point-frame", "icrs", "frame of the catalogue positions")
	cmd.Flags().StringVar(&sep, "sep", ",", "field separator")
	return cmd
}

func newConvertCmd(o *rootOpts) *cobra.Command {
	var format, out string
	order := -1
	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Re-serialize a coverage file, optionally degraded to a coarser order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := o.readMOC(cmd, args[0])
			if err != nil {
				return err
			}
			if order >= 0 {
				if m, err = m.Degrade(order); err != nil {
					return err
				}
			}
			return writeMOC(cmd, m, format, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", "ascii", "output format (json|ascii)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().IntVar(&order, "order", -1, "degrade to this order first")
	return cmd
}

// newPublisher is swapped in tests.
var newPublisher = func(brokers []string, topic string, log *slog.Logger) (*invalidation.Publisher, error) {
	return invalidation.NewPublisher(brokers, topic, 16, log)
}

func newNotifyCmd(o *rootOpts) *cobra.Command {
	var op, brokers, topic, source string
	cmd := &cobra.Command{
		Use:   "notify DATASET...",
		Short: "Publish invalidation events so servers drop cached coverage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			events := make([]invalidation.Event, 0, len(args))
			for _, ds := range args {
				ev := invalidation.NewEvent(strings.ToLower(op), ds, source, now)
				if err := ev.Validate(); err != nil {
					return fmt.Errorf("%s: %w", ds, err)
				}
				events = append(events, ev)
			}

			pub, err := newPublisher(splitList(brokers), topic, o.log)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := pub.Publish(ev); err != nil {
					_ = pub.Close()
					return err
				}
			}
			if err := pub.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d %s event(s) to %s\n", len(events), op, topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&op, "op", invalidation.OpUpdate, "update|delete")
	cmd.Flags().StringVar(&brokers, "brokers", "localhost:9092", "comma-separated Kafka brokers")
	cmd.Flags().StringVar(&topic, "topic", "coverage-invalidation", "Kafka topic")
	cmd.Flags().StringVar(&source, "source", "skycover", "event source tag")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
