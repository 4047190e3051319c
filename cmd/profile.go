package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/autofill/internal/facts"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Validate the applicant profile and list the facts it provides",
	RunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("path"); path != "" {
			cfg.Profile.Path = path
		}
		if err := cfg.Validate("profile"); err != nil {
			return err
		}

		p, err := facts.LoadProfile(cfg.Profile.Path)
		if err != nil {
			return err
		}
		formatFacts(cmd.OutOrStdout(), facts.NewProfileStore(p))
		return nil
	},
}

func formatFacts(w io.Writer, st *facts.ProfileStore) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, k := range st.Keys() {
		v, _, _ := st.Get(context.Background(), k)
		fmt.Fprintf(tw, "%s\t%s\n", k, truncate(v, 60))
	}
	_ = tw.Flush()
}

func init() {
	profileCmd.Flags().String("path", "", "profile file (default from config)")
	rootCmd.AddCommand(profileCmd)
}
