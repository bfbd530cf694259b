package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/protocol"
	"github.com/zjrosen/sassbridge/internal/worker"
	"github.com/zjrosen/sassbridge/internal/worker/dartsass"
)

var (
	workerStdin      bool
	workerPersistent bool
	workerLimits     protocol.Limits
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve compile requests on stdin/stdout (started by the client)",
	Long: `Run the worker side of the bridge.

--stdin reads one JSON request from stdin and writes one JSON response.
--persistent serves newline-delimited requests until {"exit":true} or EOF.

The worker logs warnings and Sass diagnostics to stderr, which the client
reports when a run fails.`,
	Hidden:            true,
	Args:              cobra.NoArgs,
	PersistentPreRunE: initWorkerLogging,
	RunE:              runWorker,
}

func init() {
	f := workerCmd.Flags()
	f.BoolVar(&workerStdin, "stdin", false, "serve a single request")
	f.BoolVar(&workerPersistent, "persistent", false, "serve newline-delimited requests")
	f.Int64Var(&workerLimits.MaxInputBytes, "max-input-bytes", protocol.DefaultMaxInputBytes, "largest accepted request in bytes")
	f.IntVar(&workerLimits.StreamThreshold, "stream-threshold", protocol.DefaultStreamThreshold, "result size above which streamed results are chunked")
	f.IntVar(&workerLimits.ChunkSize, "chunk-size", protocol.DefaultChunkSize, "largest chunk in bytes")

	workerCmd.MarkFlagsMutuallyExclusive("stdin", "persistent")
	workerCmd.MarkFlagsOneRequired("stdin", "persistent")
	rootCmd.AddCommand(workerCmd)
}

// initWorkerLogging keeps stdout clean for responses. Debug logs go to the
// debug file when enabled, everything else at warn and above to stderr.
func initWorkerLogging(cmd *cobra.Command, args []string) error {
	if debugFlag || os.Getenv("SASSBRIDGE_DEBUG") != "" {
		return initLogging(cmd, args)
	}
	log.InitWriter(os.Stderr, log.LevelWarn)
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	compilerPath, _ := cmd.Flags().GetString("compiler")
	if compilerPath == "" {
		compilerPath = cfg.Compiler.Path
	}

	backend, err := dartsass.New(dartsass.Config{
		CompilerPath: compilerPath,
		Warnings: func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	adapter := worker.New(backend, worker.WithLimits(workerLimits))
	ctx := cmd.Context()

	if workerPersistent {
		log.Debug(log.CatWorker, "Serving persistent requests", "compiler", compilerPath)
		return adapter.RunPersistent(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	err = adapter.RunOnce(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(err, worker.ErrInputTooLarge) {
		// The resource error response is already written; only the exit
		// status is left to report.
		cmd.SilenceErrors = true
	}
	return err
}
