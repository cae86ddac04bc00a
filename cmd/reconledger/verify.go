package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func verifyCmd(gf *globalFlags) *cobra.Command {
	var (
		timeout time.Duration
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Probe every verifiable claim in the snapshot and save the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(gf.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			eng, err := buildEngine(ctx, gf.snapshotPath, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			queued := enqueueVerifiable(eng.verifier, eng.orch.Ledger().Claims())
			queued += enqueueProbeHints(eng, eng.metacog.Check())
			logger.Info("claims queued for verification", zap.Int("count", queued))

			if dryRun {
				return printJSON(cmd, map[string]any{"queued": queued})
			}

			if err := eng.verifier.Drain(ctx); err != nil {
				return fmt.Errorf("verification interrupted: %w", err)
			}
			if err := eng.saveSnapshot(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"queued":   queued,
				"verifier": eng.verifier.Stats(),
				"ledger":   eng.orch.Ledger().Stats(),
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long (0 = no limit)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report how many claims would be probed")
	return cmd
}

// enqueueVerifiable queues every claim the verifier accepts, most uncertain
// first so a bounded queue keeps the claims that gain the most.
func enqueueVerifiable(v *service.ReactiveVerifier, claims []*domain.Claim) int {
	ordered := make([]*domain.Claim, 0, len(claims))
	for _, c := range claims {
		if v.ShouldVerify(c) {
			ordered = append(ordered, c)
		}
	}
	sortByUncertainty(ordered)

	n := 0
	for _, c := range ordered {
		if v.Enqueue(c, service.PriorityNormal) {
			n++
		}
	}
	return n
}

// enqueueProbeHints moves claims named by probe_priority hints to the front
// of the queue.
func enqueueProbeHints(eng *engine, hints []domain.Hint) int {
	n := 0
	for _, h := range hints {
		if h.Type != domain.HintProbePriority {
			continue
		}
		for _, id := range h.AffectedSubjects {
			if eng.verifier.EnqueueByID(id, service.PriorityHigh) {
				n++
			}
		}
	}
	return n
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
