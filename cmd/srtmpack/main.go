// Command srtmpack downloads a set of SRTM elevation tiles into a single
// ZIP archive. It is the CLI front-end for internal/download.Manager,
// adapted from the teacher's cmd/build driver (flag-driven worker pool
// fetching remote tiles into an output sink) and from
// watercolormap's internal/cmd root (cobra command tree, viper-layered
// config, slog logging).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srtm-tiles/srtmpack/internal/download"
	"github.com/srtm-tiles/srtmpack/internal/manifest"
	"github.com/srtm-tiles/srtmpack/internal/sanitize"
	"github.com/srtm-tiles/srtmpack/internal/tiledecode"
	"github.com/srtm-tiles/srtmpack/internal/tilecache"
	"github.com/srtm-tiles/srtmpack/internal/tilefetch"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "srtmpack",
	Short: "Download SRTM elevation tiles into a ZIP archive",
	Long: `srtmpack fetches SRTM1 elevation tiles from the public skadi S3 bucket,
caching them locally, and packages the requested set into a single ZIP
archive suitable for offline use.`,
	RunE: runDownload,
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.Flags().String("tiles", "", "Comma-separated list of tile ids (e.g. N36W112,N37W112)")
	rootCmd.Flags().String("bbox", "", "Bounding box south,west,north,east in degrees; expands to every intersecting 1x1 tile")
	rootCmd.Flags().StringP("output", "o", "", "Output ZIP path (default <N>_tiles.zip, from the number of requested tiles)")
	rootCmd.Flags().String("cache-db", "srtmpack-cache.db", "Path to the local sqlite tile cache")
	rootCmd.Flags().Bool("no-cache", false, "Disable the local cache; always fetch from the network")
	rootCmd.Flags().Int("concurrency", 3, "Maximum simultaneous tile downloads")
	rootCmd.Flags().Int("retries", tilefetch.DefaultMaxRetry, "Maximum retry attempts per tile")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{"tiles", "bbox", "output", "cache-db", "no-cache", "concurrency", "retries", "log-level"} {
		if err := viper.BindPFlag(name, rootCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

func initConfig() {
	viper.SetEnvPrefix("SRTMPACK")
	viper.AutomaticEnv()
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetConfigName("srtmpack")
	_ = viper.ReadInConfig() // absent config is not an error
}

func initLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func main() {
	if logger == nil {
		initLogging()
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	ids, err := resolveTileIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no tiles requested: pass --tiles or --bbox")
	}

	outPath := viper.GetString("output")
	if outPath == "" {
		name := sanitize.ArchiveName(fmt.Sprintf("%d tiles", len(ids)))
		outPath = name + ".zip"
	}

	var cache *tilecache.Store
	if !viper.GetBool("no-cache") {
		cache, err = tilecache.Open(viper.GetString("cache-db"), logger)
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}
		if err := cache.Init(); err != nil {
			return fmt.Errorf("initializing cache schema: %w", err)
		}
		defer cache.Close()
	}

	var mstore *manifest.Store
	if cache != nil {
		mstore = manifest.NewStore(cache.DB())
		if err := mstore.Init(); err != nil {
			return fmt.Errorf("initializing manifest schema: %w", err)
		}
	}

	fetcher, err := tilefetch.New(tilefetch.Options{
		MaxRetries: viper.GetInt("retries"),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating tile fetcher: %w", err)
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("downloading tiles"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
	)

	mgr := download.New(fetcher, tiledecode.New(), cache, mstore, download.Options{
		ConcurrentDownloads: viper.GetInt("concurrency"),
		UseCache:            cache != nil,
		Logger:              logger,
		OnProgress: func(p download.Progress) {
			_ = bar.Set(p.Current)
		},
		OnTileComplete: func(id tileid.ID, success bool) {
			if !success {
				logger.Warn("tile failed", "tile", id.String())
			}
		},
		OnError: func(err error) {
			logger.Error("download failed", "error", err)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	blob, err := mgr.StartDownload(ctx, ids)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	if err := os.WriteFile(outPath, blob.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	stats := mgr.GetStatistics()
	if stats.Session != nil {
		fmt.Fprintf(os.Stderr, "\nwrote %s: %d completed, %d failed, %d skipped (%d bytes)\n",
			outPath, stats.Session.Completed, stats.Session.Failed, stats.Session.Skipped, stats.Session.BytesDownloaded)
	}
	return nil
}

// resolveTileIDs builds the tile plan from --tiles and/or --bbox, which
// spec.md's tile-list-only API leaves to the caller to construct.
func resolveTileIDs() ([]tileid.ID, error) {
	var ids []tileid.ID
	seen := make(map[tileid.ID]bool)

	if raw := viper.GetString("tiles"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := tileid.Parse(part)
			if err != nil {
				return nil, fmt.Errorf("--tiles: %w", err)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	if raw := viper.GetString("bbox"); raw != "" {
		bbox, err := parseBBox(raw)
		if err != nil {
			return nil, fmt.Errorf("--bbox: %w", err)
		}
		for lat := int(math.Floor(bbox.south)); lat <= int(math.Floor(bbox.north)); lat++ {
			for lng := int(math.Floor(bbox.west)); lng <= int(math.Floor(bbox.east)); lng++ {
				id, err := tileid.FromLatLng(lat, lng)
				if err != nil {
					continue // out-of-range cells (poles) are silently excluded
				}
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}

	return ids, nil
}

type bbox struct{ south, west, north, east float64 }

func parseBBox(raw string) (bbox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return bbox{}, fmt.Errorf("expected south,west,north,east, got %q", raw)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox{}, fmt.Errorf("%q is not a number", p)
		}
		vals[i] = v
	}
	return bbox{south: vals[0], west: vals[1], north: vals[2], east: vals[3]}, nil
}
