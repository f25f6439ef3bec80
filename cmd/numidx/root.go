package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/numindex"
	"github.com/hupe1980/numindex/layout"
	promcollector "github.com/hupe1980/numindex/metrics/prometheus"
	"github.com/hupe1980/numindex/pagecache"
	"github.com/hupe1980/numindex/recovery"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

// app carries the configuration of one command invocation.
type app struct {
	v *viper.Viper

	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "numidx",
		Short: "numeric index file tool",
		Long: fmt.Sprintf(`numidx (v%s)

Inspect, scan and edit crash-safe numeric index files, and back them up to
local directories, S3 or MinIO.`, version),
		SilenceUsage:       true,
		PersistentPreRunE:  a.init,
		PersistentPostRunE: a.writeMetrics,
	}

	flags := root.PersistentFlags()
	flags.Bool("unique", false, wrapString("Open indexes with the unique layout"))
	flags.Int("page-size", pagecache.DefaultPageSize, wrapString("Page size of the index file in bytes"))
	flags.Int64("cache-size", pagecache.DefaultCacheCapacity, wrapString("Page cache capacity in bytes"))
	flags.String("compression", "lz4", wrapString("Checkpoint compression (lz4, none)"))
	flags.String("log-level", "warn", wrapString("Log level (debug, info, warn, error)"))
	flags.String("log-format", "text", wrapString("Log format (text, json)"))
	flags.String("metrics-file", "", wrapString("Write Prometheus metrics in text format to this file on exit"))

	root.AddCommand(
		newVersionCmd(),
		newInspectCmd(a),
		newScanCmd(a),
		newLookupCmd(a),
		newInsertCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of numidx",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "numidx v%s\n", version)
		},
	}
}

// init loads .env files and binds flags and NUMIDX_* environment variables.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("numidx")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	return a.v.BindPFlags(cmd.Flags())
}

func (a *app) logger() (*numindex.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return nil, err
	}
	switch a.v.GetString("log-format") {
	case "text":
		return numindex.NewTextLogger(level), nil
	case "json":
		return numindex.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("invalid log format %s", a.v.GetString("log-format"))
	}
}

func (a *app) compression() (numindex.Compression, error) {
	switch a.v.GetString("compression") {
	case "lz4":
		return numindex.CompressionLZ4, nil
	case "none":
		return numindex.CompressionNone, nil
	default:
		return 0, fmt.Errorf("invalid compression %s", a.v.GetString("compression"))
	}
}

func (a *app) layout() *layout.NumberLayout {
	if a.v.GetBool("unique") {
		return layout.Unique()
	}
	return layout.NonUnique()
}

// index is an open accessor together with its page cache.
type index struct {
	*numindex.Accessor
	pc *pagecache.PageCache
}

func (ix *index) close() error {
	err := ix.Accessor.Close()
	if cerr := ix.pc.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) open(path string, create bool) (*index, error) {
	logger, err := a.logger()
	if err != nil {
		return nil, err
	}
	compression, err := a.compression()
	if err != nil {
		return nil, err
	}

	pc := pagecache.New(
		pagecache.WithPageSize(a.v.GetInt("page-size")),
		pagecache.WithCacheCapacity(a.v.GetInt64("cache-size")),
	)
	opts := []numindex.Option{
		numindex.WithCreate(create),
		numindex.WithCompression(compression),
		numindex.WithLogger(logger),
	}
	if a.v.GetString("metrics-file") != "" {
		a.registry = prometheus.NewRegistry()
		mc, err := promcollector.NewCollector("numidx", a.registry)
		if err != nil {
			return nil, err
		}
		if err := promcollector.RegisterPageCache("numidx", pc, a.registry); err != nil {
			return nil, err
		}
		opts = append(opts, numindex.WithMetricsCollector(mc))
	}

	acc, err := numindex.Open(pc, path, a.layout(), recovery.Immediate(), opts...)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return &index{Accessor: acc, pc: pc}, nil
}

func (a *app) writeMetrics(*cobra.Command, []string) error {
	file := a.v.GetString("metrics-file")
	if file == "" || a.registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(file, a.registry)
}
