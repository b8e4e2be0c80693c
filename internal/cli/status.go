package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the study database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			study, err := st.GetStudy(ctx)
			if err != nil {
				return fmt.Errorf("load study record: %w", err)
			}
			if study == nil {
				fmt.Println("no study recorded yet")
				return nil
			}

			counts, err := st.Counts(ctx)
			if err != nil {
				return fmt.Errorf("count trials: %w", err)
			}

			fmt.Printf("Study: %s (%s)\n", study.Name, study.ID)
			fmt.Printf("  Algorithm: %s\n", study.Algorithm)
			fmt.Printf("  Budget:    %d trials, %d workers\n", study.TrialNumber, study.NumWorkers)
			fmt.Printf("  Progress:  %d finished, %d running, %d ready\n",
				counts.Finished, counts.Running, counts.Ready)

			if !flagAll {
				return nil
			}
			trials, err := st.ListTrials(ctx)
			if err != nil {
				return fmt.Errorf("list trials: %w", err)
			}
			fmt.Println("  Trials:")
			for _, trial := range trials {
				line := fmt.Sprintf("    %4d  %-8s", trial.ID, trial.State)
				if len(trial.Objective) > 0 {
					line += fmt.Sprintf("  %v", trial.Objective)
				}
				if trial.Error != "" {
					line += "  " + trial.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "List every trial, not just the summary")
	return cmd
}
