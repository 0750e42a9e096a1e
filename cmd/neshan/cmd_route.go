package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1995parham/neshan-go/pkg/neshan"
)

func newRouteCmd() *cobra.Command {
	var (
		vehicle   string
		opts      neshan.RouteOptions
		showSteps bool
		decode    bool
	)

	cmd := &cobra.Command{
		Use:   "route ORIGIN DESTINATION",
		Short: "Find routes between two points",
		Long: `Finds a route between two "lat,lng" points.

Example:
  neshan route 35.731984,51.392681 35.700451,51.400216 --vehicle motorcycle --alternative`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := neshan.ParseVehicleType(vehicle)
			if err != nil {
				return err
			}
			origin, err := neshan.ParsePoint(args[0])
			if err != nil {
				return fmt.Errorf("origin: %w", err)
			}
			destination, err := neshan.ParsePoint(args[1])
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}

			return runWithService(cmd, func(ctx context.Context, svc neshan.Service) error {
				logger.Debug("Finding route",
					zap.Stringer("origin", origin),
					zap.Stringer("destination", destination),
					zap.Stringer("vehicle", v))

				routes, err := svc.Route(ctx, v, origin, destination, opts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					if !decode {
						return printJSON(out, routes)
					}
					return printJSON(out, decodedRoutes(routes))
				}
				fmt.Fprint(out, renderRoutes(routes, showSteps))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&vehicle, "vehicle", "car", "Vehicle type: car or motorcycle")
	cmd.Flags().BoolVar(&opts.AvoidTrafficZone, "avoid-traffic-zone", false, "Avoid the traffic plan zone")
	cmd.Flags().BoolVar(&opts.AvoidOddEvenZone, "avoid-odd-even-zone", false, "Avoid the odd-even zone")
	cmd.Flags().BoolVar(&opts.Alternative, "alternative", false, "Return alternative routes")
	cmd.Flags().BoolVar(&showSteps, "steps", false, "Print turn-by-turn steps")
	cmd.Flags().BoolVar(&decode, "decode", false, "With --json, include decoded overview polylines")
	return cmd
}

type decodedRoute struct {
	neshan.Route
	Path []neshan.Point `json:"path"`
}

func decodedRoutes(routes *neshan.Routes) []decodedRoute {
	out := make([]decodedRoute, len(routes.Routes))
	for i, r := range routes.Routes {
		out[i].Route = r
		path, err := r.OverviewPolyline.Decode()
		if err != nil {
			logger.Warn("Undecodable overview polyline", zap.Int("route", i), zap.Error(err))
			continue
		}
		out[i].Path = path
	}
	return out
}

func newMatrixCmd() *cobra.Command {
	var (
		vehicle      string
		origins      []string
		destinations []string
	)

	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Build a distance matrix between origins and destinations",
		Long: `Computes travel distance and duration for every origin/destination pair.
Points are "lat,lng"; repeat the flag or join points with "|".

Example:
  neshan matrix --origin 36.3177,59.5323 --origin 36.3078,59.5687 \
    --destination "36.3406,59.4719|36.3117,59.5958"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := neshan.ParseVehicleType(vehicle)
			if err != nil {
				return err
			}
			from, err := parsePointList(origins)
			if err != nil {
				return fmt.Errorf("origins: %w", err)
			}
			to, err := parsePointList(destinations)
			if err != nil {
				return fmt.Errorf("destinations: %w", err)
			}

			return runWithService(cmd, func(ctx context.Context, svc neshan.Service) error {
				m, err := svc.DistanceMatrix(ctx, v, from, to)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), m)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderMatrix(m, from, to))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&vehicle, "vehicle", "car", "Vehicle type: car or motorcycle")
	cmd.Flags().StringArrayVar(&origins, "origin", nil, "Origin point(s)")
	cmd.Flags().StringArrayVar(&destinations, "destination", nil, "Destination point(s)")
	_ = cmd.MarkFlagRequired("origin")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

// parsePointList parses repeated and "|"-joined "lat,lng" values.
func parsePointList(values []string) ([]neshan.Point, error) {
	var points []neshan.Point
	for _, v := range values {
		for _, part := range strings.Split(v, "|") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			p, err := neshan.ParsePoint(part)
			if err != nil {
				return nil, err
			}
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points given", neshan.ErrInvalidArgument)
	}
	return points, nil
}
