package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/autofill/internal/model"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <fields.json>",
	Short: "Classify field descriptors from a JSON file and print their purposes",
	Long:  "Reads a JSON array of field descriptors (use - for stdin) and prints the purpose, confidence and matched signal of each.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("classify"); err != nil {
			return err
		}
		ds, err := readDescriptors(args[0])
		if err != nil {
			return err
		}
		cl, err := initClassifier()
		if err != nil {
			return err
		}

		fields := cl.ClassifyAll(ds)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fields)
		}
		formatClassified(cmd.OutOrStdout(), fields)
		return nil
	},
}

func readDescriptors(path string) ([]model.FieldDescriptor, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read descriptors %s", path)
	}

	var ds []model.FieldDescriptor
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, eris.Wrapf(err, "parse descriptors %s", path)
	}
	return ds, nil
}

func formatClassified(w io.Writer, fields []model.ClassifiedField) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPURPOSE\tCONFIDENCE\tSIGNAL\tQUESTION")
	for _, f := range fields {
		signal := string(f.MatchedSignal)
		if signal == "" {
			signal = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			f.ID, f.InputKind, f.Purpose, f.Confidence, signal, truncate(f.QuestionText(), 48))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	classifyCmd.Flags().Bool("json", false, "print classified fields as JSON")
	rootCmd.AddCommand(classifyCmd)
}
