package main

import (
	"github.com/spf13/cobra"

	"github.com/andyan77/diyu-agent-sub001/internal/orchestrator"
)

var flags struct {
	manifestPath   string
	stateDir       string
	workDir        string
	target         string
	resume         bool
	dryRun         bool
	jsonOut        bool
	status         bool
	reset          bool
	timeoutDefault int
}

// exitCode carries the orchestrator's semantic exit code out of RunE.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "phaserun",
	Short: "Phased workflow orchestrator with checkpoint/resume",
	Long: `phaserun runs a declarative manifest of workflow nodes in dependency
order, time-boxing every check, checkpointing progress for resume, and
writing a structured evidence record per executed node.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := orchestrator.Options{
			ManifestPath:         flags.manifestPath,
			StateDir:             flags.stateDir,
			WorkDir:              flags.workDir,
			Target:               flags.target,
			Resume:               flags.resume,
			DryRun:               flags.dryRun,
			JSON:                 flags.jsonOut,
			Status:               flags.status,
			Reset:                flags.reset,
			DefaultBudgetSeconds: flags.timeoutDefault,
			Out:                  cmd.OutOrStdout(),
		}
		code, err := orchestrator.Run(cmd.Context(), opts)
		exitCode = code
		return err
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flags.manifestPath, "manifest", "m", "workflows.yaml", "Path to the workflow manifest")
	rootCmd.Flags().StringVar(&flags.stateDir, "state-dir", ".phaserun", "Directory for checkpoint and evidence state")
	rootCmd.Flags().StringVar(&flags.workDir, "workdir", "", "Directory checks execute in (default: current directory)")
	rootCmd.Flags().StringVar(&flags.target, "wf", "", "Run exactly one workflow node by id")
	rootCmd.Flags().BoolVar(&flags.resume, "resume", false, "Skip workflows already done per the checkpoint")
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the execution plan without executing")
	rootCmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Emit machine-readable output")
	rootCmd.Flags().BoolVar(&flags.status, "status", false, "Print checkpoint state per workflow and exit")
	rootCmd.Flags().BoolVar(&flags.reset, "reset", false, "Clear the checkpoint store and exit")
	rootCmd.Flags().IntVar(&flags.timeoutDefault, "timeout-default", 0, "Default node timeout budget in seconds (0 = built-in 300)")

	rootCmd.MarkFlagsMutuallyExclusive("dry-run", "status", "reset", "wf")
	rootCmd.MarkFlagsMutuallyExclusive("resume", "status", "reset", "dry-run")
}
