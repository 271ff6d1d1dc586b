package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aspect-build/attestproof/internal/keyset"
)

func (c *cli) keysCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keys <jku>",
		Short: "Fetch an allowlisted key set and list its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := keyset.NewHTTPResolver(c.cfg.KeySet.ResolverOptions())
			if err != nil {
				return err
			}
			set, err := r.FetchKeySet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), set)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tKTY\tALG\tBITS\tSTATUS")
			for _, k := range set.Keys {
				bits, status := "-", "ok"
				if pub, err := keyset.ToPublicKey(k, r.MinKeyBits()); err != nil {
					status = err.Error()
				} else {
					bits = fmt.Sprint(pub.Bits())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.KeyID, k.KeyType, k.Alg, bits, status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw key set as JSON")
	return cmd
}
