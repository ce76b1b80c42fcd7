package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/urbanmcp/pkg/analysis"
	"github.com/NERVsystems/urbanmcp/pkg/geo"
	"github.com/NERVsystems/urbanmcp/pkg/osm"
	"github.com/NERVsystems/urbanmcp/pkg/osm/queries"
	"github.com/NERVsystems/urbanmcp/pkg/tools"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Profile one bounding box or named place and print the result as JSON",
	Long: `Run the three Overpass queries for a bounding box, compute the
infrastructure metrics and score, and print the result. With --place the
box is looked up first from coordinates, Nominatim or the builtin cities.

Examples:
  # Central Pune
  urbanmcp analyze --bbox 73.85,18.5,73.86,18.51

  # Include the fetched GeoJSON layers
  urbanmcp analyze --bbox 73.85,18.5,73.86,18.51 --features

  # Resolve a place name, with a question to pick recommendations
  urbanmcp analyze --place Pune --question "How accessible are hospitals?"`,
	RunE: runAnalyze,
}

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Print the Overpass queries for a bounding box without running them",
	RunE:  runQueries,
}

func init() {
	f := analyzeCmd.Flags()
	f.String("bbox", "", "min_lon,min_lat,max_lon,max_lat")
	f.String("place", "", `place name or "lat, lon" to resolve instead of --bbox`)
	f.String("question", "", "question about the place, used with --place")
	f.Bool("features", false, "include the GeoJSON feature layers")
	f.Duration("timeout", 0, "overall deadline for the analysis (0 = none)")
	analyzeCmd.MarkFlagsOneRequired("bbox", "place")
	analyzeCmd.MarkFlagsMutuallyExclusive("bbox", "place")

	queriesCmd.Flags().String("bbox", "", "min_lon,min_lat,max_lon,max_lat")
	_ = queriesCmd.MarkFlagRequired("bbox")

	rootCmd.AddCommand(analyzeCmd, queriesCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("bbox")
	placeText, _ := cmd.Flags().GetString("place")
	question, _ := cmd.Flags().GetString("question")
	withFeatures, _ := cmd.Flags().GetBool("features")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var bbox geo.BoundingBox
	if placeText == "" {
		var err error
		if bbox, err = geo.ParseBoundingBoxString(raw); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := commandContext(ctx, timeout)
	defer cancel()

	a := newApp(cfg, logger)

	var place *osm.Place
	if placeText != "" {
		p, err := a.resolver.Resolve(ctx, placeText)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", placeText, err)
		}
		place, bbox = &p, p.BBox
	}

	result, err := a.analyzer.AnalyzeBBox(ctx, bbox)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", bbox, err)
	}
	if !withFeatures {
		result = result.WithoutFeatures()
	}
	if place == nil {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	if question == "" {
		question = placeText
	}
	class := analysis.ClassifyQuery(question)
	return writeJSON(cmd.OutOrStdout(), tools.PlaceAnalysis{
		Place:           *place,
		Classification:  class,
		Recommendations: analysis.Recommendations(class.Category),
		Result:          result,
	})
}

func runQueries(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("bbox")
	bbox, err := geo.ParseBoundingBoxString(raw)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), queries.ProfileQueries(bbox))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
