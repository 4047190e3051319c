package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the decision audit trail of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.DecisionFilter{SessionID: args[0]}
		if cmd.Flags().Changed("stage") {
			idx, _ := cmd.Flags().GetInt("stage")
			filter.StageIndex = &idx
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		events, err := st.ListDecisions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stderr, "No decisions recorded.")
			return nil
		}
		formatDecisions(cmd.OutOrStdout(), events)
		return nil
	},
}

func formatDecisions(w io.Writer, ds []model.ResolutionDecision) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tFIELD\tPURPOSE\tMODE\tSTATUS\tVALUE\tERROR")
	for _, d := range ds {
		value := d.FinalValue
		if value == "" {
			value = d.ProposedValue
		}
		errText := d.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.StageIndex, d.FieldID, d.Purpose, d.Mode, d.Status, truncate(value, 40), errText)
	}
	_ = tw.Flush()
}

func init() {
	historyCmd.Flags().Int("stage", 0, "only show this stage")
	historyCmd.Flags().Int("limit", 100, "maximum number of events")
	rootCmd.AddCommand(historyCmd)
}
