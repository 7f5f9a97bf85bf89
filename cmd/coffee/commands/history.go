package commands

import (
	"fmt"
	"math/big"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vitwit/coffee/storage"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/utils"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent purchases and withdrawals from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.LedgerPath == "" {
				return fmt.Errorf("no ledger configured")
			}
			ledger, err := storage.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tTIER\tQTY\tAMOUNT (ETH)\tTX")
			for _, e := range entries {
				amount, _ := new(big.Int).SetString(e.AmountWei, 10)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Kind, e.Status, e.Tier, e.Quantity,
					utils.FormatAmountFromBigInt(amount, types.NativeDecimals, 6),
					utils.ShortHash(e.TxHash),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
