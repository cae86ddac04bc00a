package main

import (
	"sort"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/Harshitk-cp/reconledger/internal/service"
	"github.com/spf13/cobra"
)

func inspectCmd(gf *globalFlags) *cobra.Command {
	var (
		uncertain     int
		controversial int
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print statistics and metacognitive hints for a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(gf.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			eng, err := buildEngine(cmd.Context(), gf.snapshotPath, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			o := eng.orch
			report := map[string]any{
				"stats":   o.Stats(cmd.Context()),
				"hints":   eng.metacog.Check(),
				"metacog": eng.metacog.Stats(),
			}
			if uncertain > 0 {
				report["uncertain_claims"] = o.Ledger().HighUncertaintyClaims(uncertain)
			}
			if controversial > 0 {
				report["controversial_claims"] = o.Ledger().ControversialClaims(controversial)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&uncertain, "uncertain", 0, "Also list the N most uncertain claims")
	cmd.Flags().IntVar(&controversial, "controversial", 0, "Also list the N most controversial claims")
	return cmd
}

func sortByUncertainty(claims []*domain.Claim) {
	sort.SliceStable(claims, func(i, j int) bool {
		ui, uj := claims[i].Opinion.U, claims[j].Opinion.U
		if ui != uj {
			return ui > uj
		}
		return service.ExpectedProbability(claims[i].Opinion) < service.ExpectedProbability(claims[j].Opinion)
	})
}
