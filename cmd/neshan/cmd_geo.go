package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1995parham/neshan-go/pkg/neshan"
)

func newReverseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse LAT,LNG",
		Short: "Reverse geocode a point into a postal address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			point, err := neshan.ParsePoint(args[0])
			if err != nil {
				return err
			}
			return runWithService(cmd, func(ctx context.Context, svc neshan.Service) error {
				addr, err := svc.ReverseGeocode(ctx, point)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), addr)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderAddress(point, addr))
				return nil
			})
		},
	}
}

type batchEntry struct {
	Point   neshan.Point          `json:"point"`
	Address *neshan.PostalAddress `json:"address"`
}

func newBatchReverseCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch-reverse [FILE]",
		Short: "Reverse geocode many points concurrently",
		Long: `Reads one "lat,lng" per line from FILE, or from stdin when FILE is
omitted or "-". Blank lines and lines starting with # are ignored.
The first failing point aborts the batch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open points file: %w", err)
				}
				defer f.Close()
				in = f
			}
			points, err := readPoints(in)
			if err != nil {
				return err
			}

			return runWithApp(cmd, func(ctx context.Context, a *app, svc neshan.Service) error {
				limit := concurrency
				if limit <= 0 {
					limit = a.cfg.Batch.Concurrency
				}
				logger.Info("Reverse geocoding batch", zap.Int("points", len(points)), zap.Int("concurrency", limit))

				addrs, err := neshan.ReverseGeocodeBatch(ctx, svc, points, limit)
				if err != nil {
					return err
				}

				entries := make([]batchEntry, len(points))
				for i := range points {
					entries[i] = batchEntry{Point: points[i], Address: addrs[i]}
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderBatch(entries))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel requests (default: batch.concurrency from config)")
	return cmd
}

// readPoints parses one point per line.
func readPoints(r io.Reader) ([]neshan.Point, error) {
	var points []neshan.Point
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := neshan.ParsePoint(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read points: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points given", neshan.ErrInvalidArgument)
	}
	return points, nil
}

func newSearchCmd() *cobra.Command {
	var near string

	cmd := &cobra.Command{
		Use:   "search TERM",
		Short: "Search places by name around a point",
		Long: `Searches places matching TERM, ranked by distance from --near.

Example:
  neshan search "کافه" --near 35.699739,51.338097`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			center, err := neshan.ParsePoint(near)
			if err != nil {
				return fmt.Errorf("--near: %w", err)
			}
			term := strings.Join(args, " ")
			return runWithService(cmd, func(ctx context.Context, svc neshan.Service) error {
				res, err := svc.Search(ctx, term, center)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderSearch(term, res))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&near, "near", "", "Center point as lat,lng (required)")
	_ = cmd.MarkFlagRequired("near")
	return cmd
}

func newGeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geocode ADDRESS",
		Short: "Resolve an address to coordinates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := strings.Join(args, " ")
			return runWithService(cmd, func(ctx context.Context, svc neshan.Service) error {
				res, err := svc.Geocode(ctx, address)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderGeocode(address, res))
				return nil
			})
		},
	}
}
