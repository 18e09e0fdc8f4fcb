package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/output"
	"github.com/bitswalk/bootimg/src/common/cli"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded builds",
	Long: `Lists the most recent builds, or the stages of a single build when a
run ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to list")
}

func openHistory() (*db.Database, error) {
	path := cli.GetExpandedString("history.path")
	if path == "" {
		return nil, errors.ErrInvalidFieldValue.WithMessage("build history is disabled (empty --history-db)")
	}
	return db.New(db.Config{Path: path})
}

func runHistory(cmd *cobra.Command, args []string) error {
	database, err := openHistory()
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewRunRepository(database)
	if len(args) == 1 {
		return showRun(cmd, repo, args[0])
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := repo.List(limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case output.FormatJSON:
		return output.PrintJSON(w, runs)
	case output.FormatYAML:
		return output.PrintYAML(w, runs)
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		failure := ""
		if r.ErrorStage != "" {
			failure = r.ErrorStage + ": " + r.ErrorCode
		}
		rows = append(rows, []string{
			r.ID,
			r.ProjectName,
			string(r.Status),
			r.CreatedAt.Local().Format(time.DateTime),
			failure,
		})
	}
	output.PrintTable(w, []string{"RUN", "PROJECT", "STATUS", "CREATED", "FAILURE"}, rows)
	return nil
}

func showRun(cmd *cobra.Command, repo *db.RunRepository, id string) error {
	run, err := repo.GetByID(id)
	if err != nil {
		return err
	}
	stages, err := repo.GetStages(id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	detail := struct {
		db.Run `yaml:",inline"`
		Stages []db.RunStage `json:"stages" yaml:"stages"`
	}{*run, stages}

	switch outputFormat {
	case output.FormatJSON:
		return output.PrintJSON(w, detail)
	case output.FormatYAML:
		return output.PrintYAML(w, detail)
	}

	output.PrintTable(w, []string{"FIELD", "VALUE"}, [][]string{
		{"Run", run.ID},
		{"Project", fmt.Sprintf("%s (%s)", run.ProjectName, run.ProjectRoot)},
		{"Hardware", run.HardwareSource},
		{"Toolchain", run.ToolchainSource},
		{"Status", string(run.Status)},
		{"Boot image", run.BootImagePath},
		{"SHA256", run.BootImageChecksum},
		{"Error", run.ErrorMessage},
	})
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, []string{
			string(s.Name),
			string(s.Status),
			strconv.FormatInt(s.DurationMs, 10) + "ms",
			s.ErrorMessage,
		})
	}
	output.PrintTable(w, []string{"STAGE", "STATUS", "DURATION", "ERROR"}, rows)
	return nil
}
