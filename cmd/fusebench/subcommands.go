package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/fusebench/internal/core"
	"github.com/3cpo-dev/fusebench/internal/mount"
	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

func loadConfig(cmd *cobra.Command) (core.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(path)
}

// Create the stream command
func newStreamCmd() *cobra.Command {
	var (
		project string
		verbose bool
		verify  bool
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Time copies through the mount against direct downloads on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client := platform.NewClient(cfg.PlatformConfig())
			proj, err := client.ResolveProject(ctx, project)
			if err != nil {
				return err
			}

			bench := &core.StreamBenchmark{
				Dirs:        cfg.WorkDirs(),
				HomeDir:     cfg.Workdir.Home,
				BenchFolder: cfg.Workdir.BenchFolder,
				ProjectID:   proj.ID,
				Mounter:     mount.New(cfg.MountConfig()),
				Downloader:  core.DXDownloader{Binary: cfg.Download.Binary},
				Verify:      verify,
				Out:         cmd.OutOrStdout(),
			}
			results, err := bench.Run(ctx)
			if err != nil {
				return err
			}
			var total int64
			for _, r := range results {
				total += r.Size
			}
			log.Info().
				Int("files", len(results)).
				Str("bytes", humanize.Bytes(uint64(total))).
				Msg("stream benchmark complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "dxfs2_test_data", "project name or id holding the benchmark files")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&verify, "verify", false, "compare the two copies of every file")
	return cmd
}

// Create the run command
func newRunCmd() *cobra.Command {
	var (
		project     string
		test        string
		size        string
		format      string
		historyPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark or correctness applet across a ladder of instance types",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client := platform.NewClient(cfg.PlatformConfig())

			remote := &core.Remote{
				Platform: client,
				FanOut: &core.FanOut{
					Runner:            client,
					KeepAliveInterval: cfg.KeepAliveInterval(),
					KeepAliveOut:      cmd.OutOrStdout(),
					Concurrent:        cfg.Runner.ConcurrentWait,
				},
				Out: cmd.OutOrStdout(),
			}

			if historyPath == "" {
				historyPath = cfg.History.Path
			}
			if historyPath != "" {
				store, err := core.NewStore(historyPath)
				if err != nil {
					return fmt.Errorf("open history: %w", err)
				}
				defer store.Close()
				remote.Store = store
			}

			_, err = remote.Run(ctx, core.RemoteOptions{
				Project:           project,
				Test:              api.TestKind(test),
				Size:              size,
				AppletFolder:      cfg.Runner.AppletFolder,
				BenchmarkApplet:   cfg.Runner.BenchmarkApplet,
				CorrectnessApplet: cfg.Runner.CorrectnessApplet,
				Format:            format,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&project, "project", "dxfuse_test_data", "project name or id to run in")
	cmd.Flags().StringVar(&test, "test", string(api.TestCorrectness), "which test to run: benchmark or correctness")
	cmd.Flags().StringVar(&size, "size", "small", "instance ladder: small or large")
	cmd.Flags().StringVar(&format, "format", "table", "benchmark output: table, csv or json")
	cmd.Flags().StringVar(&historyPath, "history", "", "sqlite file recording benchmark results (overrides history.path)")
	return cmd
}

// Create the history command
func newHistoryCmd() *cobra.Command {
	var (
		limit       int
		historyPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded benchmark results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if historyPath == "" {
				historyPath = cfg.History.Path
			}
			if historyPath == "" {
				return fmt.Errorf("no history file: set history.path or pass --history")
			}
			store, err := core.NewStore(historyPath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			rows, err := store.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tPROJECT\tREGION\tSIZE\tINSTANCE-TYPE\tFILE\tDOWNLOAD (SEC)\tMOUNT (SEC)")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%g\t%g\n",
					humanize.Time(r.Run.StartedAt), r.Run.Project, r.Run.Region, r.Run.Size,
					r.InstanceType, r.File, r.BaselineSeconds, r.MountSeconds)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows to show (0 for all)")
	cmd.Flags().StringVar(&historyPath, "history", "", "sqlite file to read (overrides history.path)")
	return cmd
}
