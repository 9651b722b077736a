package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagConfig      string
	flagOutputDir   string
	flagStateDir    string
	flagFileName    string
	flagJobID       string
	flagConnections int
	flagUserAgent   string
	flagLogFile     string
	flagListenAddr  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "turbodl <url>",
		Short:   "turbodl is a segmented, resumable HTTP download engine",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runDownload(args[0])
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML settings file")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Append JSON logs to this file")

	root.Flags().StringVarP(&flagOutputDir, "output-dir", "o", "", "Directory for the downloaded file")
	root.Flags().StringVar(&flagStateDir, "state-dir", "", "Directory for the resume record (defaults to output dir)")
	root.Flags().StringVarP(&flagFileName, "name", "n", "", "File name override")
	root.Flags().StringVar(&flagJobID, "job-id", "", "Job id (defaults to a time-derived string)")
	root.Flags().IntVarP(&flagConnections, "connections", "c", 0, "Number of parallel connections")
	root.Flags().StringVarP(&flagUserAgent, "user-agent", "a", "", "Request User-Agent")

	resume := &cobra.Command{
		Use:   "resume <state-file>",
		Short: "Resume a paused or interrupted download from its state file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(args[0])
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serve.Flags().StringVar(&flagListenAddr, "listen", "", "Listen address (defaults to 127.0.0.1:4444)")

	root.AddCommand(resume, serve)
	return root
}
