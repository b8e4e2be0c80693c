// Package report renders a completed study into files humans read:
// a CSV table of every trial and a YAML summary of the best result.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/me/optrun/pkg/model"
)

// WriteCSV writes one row per trial with a stable column set: the trial
// id, state, every parameter (columns sorted by name so the header does
// not depend on strategy ordering), the objective values, and the error
// message if any.
func WriteCSV(w io.Writer, trials []*model.Trial) error {
	paramNames := collectParamNames(trials)
	objectiveWidth := 0
	for _, trial := range trials {
		if len(trial.Objective) > objectiveWidth {
			objectiveWidth = len(trial.Objective)
		}
	}

	header := []string{"trial_id", "state"}
	header = append(header, paramNames...)
	for i := 0; i < objectiveWidth; i++ {
		header = append(header, fmt.Sprintf("objective_%d", i))
	}
	header = append(header, "error")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, trial := range trials {
		byName := make(map[string]string, len(trial.Params))
		for _, p := range trial.Params {
			byName[p.Name] = fmt.Sprintf("%v", p.Value)
		}

		row := []string{strconv.Itoa(trial.ID), string(trial.State)}
		for _, name := range paramNames {
			row = append(row, byName[name])
		}
		for i := 0; i < objectiveWidth; i++ {
			if i < len(trial.Objective) {
				row = append(row, strconv.FormatFloat(trial.Objective[i], 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, trial.Error)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for trial %d: %w", trial.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// BestResult is the YAML document written after a run.
type BestResult struct {
	Study  string       `yaml:"study"`
	Goals  []model.Goal `yaml:"goals"`
	Trials []BestTrial  `yaml:"trials"`
}

// BestTrial summarizes one winning trial.
type BestTrial struct {
	TrialID    int            `yaml:"trial_id"`
	Objective  []float64      `yaml:"objective"`
	Parameters map[string]any `yaml:"parameters"`
}

// WriteBestYAML writes the best trial per goal as a YAML document.
func WriteBestYAML(w io.Writer, studyName string, goals []model.Goal, best []*model.Trial) error {
	result := BestResult{Study: studyName, Goals: goals}
	for _, trial := range best {
		params := make(map[string]any, len(trial.Params))
		for _, p := range trial.Params {
			params[p.Name] = p.Value
		}
		result.Trials = append(result.Trials, BestTrial{
			TrialID:    trial.ID,
			Objective:  trial.Objective,
			Parameters: params,
		})
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode best result: %w", err)
	}
	return nil
}

// WriteFiles renders both report files into dir, creating it if needed.
func WriteFiles(dir, studyName string, goals []model.Goal, trials, best []*model.Trial) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	csvFile, err := os.Create(filepath.Join(dir, "results.csv"))
	if err != nil {
		return fmt.Errorf("create results.csv: %w", err)
	}
	defer csvFile.Close()
	if err := WriteCSV(csvFile, trials); err != nil {
		return err
	}

	yamlFile, err := os.Create(filepath.Join(dir, "best.yaml"))
	if err != nil {
		return fmt.Errorf("create best.yaml: %w", err)
	}
	defer yamlFile.Close()
	return WriteBestYAML(yamlFile, studyName, goals, best)
}

func collectParamNames(trials []*model.Trial) []string {
	seen := make(map[string]bool)
	var names []string
	for _, trial := range trials {
		for _, p := range trial.Params {
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}
