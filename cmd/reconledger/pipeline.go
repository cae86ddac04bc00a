package main

import (
	"fmt"

	"github.com/Harshitk-cp/reconledger/internal/config"
	"github.com/spf13/cobra"
)

func pipelineCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Validate a pipeline definition and print the resolved stages",
		Long: `Validate a YAML pipeline definition. Without --file the PIPELINE_FILE
setting is used, and without either the built-in recon, analysis and
synthesis pipeline is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.PipelineFile()
			}
			stages, err := config.LoadPipeline(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, s := range stages {
				mode := "sequential"
				if s.Parallel {
					mode = "parallel"
				}
				req := "required"
				if !s.Required {
					req = "optional"
				}
				fmt.Fprintf(out, "%d. %s (%s, %s, timeout %s)\n", i+1, s.Name, mode, req, s.Timeout)
				for _, a := range s.Agents {
					fmt.Fprintf(out, "   - %s\n", a)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline YAML file")
	return cmd
}
