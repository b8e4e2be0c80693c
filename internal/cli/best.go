package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/optrun/internal/report"
	"github.com/me/optrun/pkg/model"
)

func newBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best",
		Short: "Print the best trial per goal as YAML",
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

			best, err := st.BestTrials(cmd.Context(), cfg.Optimize.Goals)
			if err != nil {
				if errors.Is(err, model.ErrNoFinishedTrials) {
					return fmt.Errorf("no finished trials in %s", dbPath(cfg))
				}
				return err
			}
			return report.WriteBestYAML(os.Stdout, cfg.Study.Name, cfg.Optimize.Goals, best)
		},
	}
}
