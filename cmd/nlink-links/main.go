package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/hkwi/nlink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().Uint32Var(&indexFlag, "index", DefaultConfig.Index, "link index to look up")
	rootCmd.PersistentFlags().StringVar(&nameFlag, "name", DefaultConfig.Name, "link name to look up")
	rootCmd.PersistentFlags().BoolVar(&metricsFlag, "metrics", false, "print hub metrics on exit")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in log lines")
}

var (
	rootCmd = &cobra.Command{
		Use:   "nlink-links",
		Short: "Query network links over rtnetlink.",
		Long:  "Looks up a link by index and by name, dumps every link and the bridge VLAN table, all over one netlink socket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd, demoQueries(conf))
		},
	}

	getCmd = &cobra.Command{
		Use:   "get",
		Short: "Look up the link given by --index or --name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := demoQueries(conf)
			if cmd.Flags().Changed("name") && !cmd.Flags().Changed("index") {
				return withHub(cmd, queries[1:2])
			}
			return withHub(cmd, queries[0:1])
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "List every link.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd, demoQueries(conf)[2:3])
		},
	}

	bridgeCmd = &cobra.Command{
		Use:   "bridge",
		Short: "List bridge ports with their VLANs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHub(cmd, demoQueries(conf)[3:4])
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}

	confPath    string
	indexFlag   uint32
	nameFlag    string
	metricsFlag bool
	logTimeFlag bool
	builtCommit = "dev"

	conf *Config
)

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentPreRunE = setup

	// Add the different sub-commands
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and lets explicit flags override it.
func setup(cmd *cobra.Command, args []string) error {
	c, err := ReadConf(confPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("index") {
		c.Index = indexFlag
	}
	if cmd.Flags().Changed("name") {
		c.Name = nameFlag
	}
	if c.LogTime {
		logTimeFlag = true
	}
	conf = c

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       logLevelMap[conf.LogLevel],
		ReplaceAttr: logReplacements,
	}))
	slog.SetDefault(logger)
	slog.Debug("configuration", "conf", conf.String())
	return nil
}

func withHub(cmd *cobra.Command, queries []query) error {
	reg := prometheus.NewRegistry()
	hubConf := conf.Hub
	hubConf.Logger = slog.Default()
	hubConf.Registerer = reg

	hub, err := nlink.NewRtHub(&hubConf)
	if err != nil {
		return fmt.Errorf("error opening the netlink socket: %w", err)
	}
	defer hub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = runQueries(ctx, hub, conf, cmd.OutOrStdout(), queries)

	if metricsFlag {
		if werr := writeMetrics(cmd.OutOrStdout(), reg); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
