package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vectormill/vectormill/pkg/build"
	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/pipeline"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	buildProjectFile string
	buildForce       bool
	buildOnly        []string
	buildMetricsAddr string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Materialize the dataset artifacts",
	Long: `Build assembles the dataset once and materializes every required
artifact: the partitioned-id list, the vector schema and metadata documents
and, when any feature opts into scaling, the scaler statistics. Unchanged
projects are skipped via a content hash over the descriptors.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildProjectFile, "project", "project.yaml", "project descriptor file")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild even when the config hash is unchanged")
	buildCmd.Flags().StringSliceVar(&buildOnly, "only", nil, "restrict the build to these artifact keys (plus dependencies)")
	buildCmd.Flags().StringVar(&buildMetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address while building")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	if buildMetricsAddr != "" {
		observability.StartMetricsServer(logger, buildMetricsAddr)
	}

	runtime, err := pipeline.NewRuntime(logger, buildProjectFile)
	if err != nil {
		return err
	}

	return build.NewBuilder(runtime).Run(cmd.Context(), build.Options{Force: buildForce, Only: buildOnly})
}
