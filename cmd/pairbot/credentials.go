package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCredentialsCmd(opts *globalOpts) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage a user's exchange API keys",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	var (
		venue, apiKey, apiSecret, username string
		testnet                            bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Verify and store API keys for a venue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, cleanup, err := opts.wire(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := deps.Credentials.AddCredential(cmd.Context(), user, username, venue, apiKey, apiSecret, testnet)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s credentials for %s (testnet=%t)\n", summary.Venue, user, summary.IsTestnet)
			return nil
		},
	}
	add.Flags().StringVar(&venue, "venue", "", "venue name, e.g. binance")
	add.Flags().StringVar(&apiKey, "api-key", "", "API key")
	add.Flags().StringVar(&apiSecret, "api-secret", "", "API secret")
	add.Flags().StringVar(&username, "username", "", "display name to record for the user")
	add.Flags().BoolVar(&testnet, "testnet", false, "use the venue's testnet")
	_ = add.MarkFlagRequired("venue")
	_ = add.MarkFlagRequired("api-key")
	_ = add.MarkFlagRequired("api-secret")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored venues without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, cleanup, err := opts.wire(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			creds, err := deps.Credentials.ListCredentials(cmd.Context(), user)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VENUE\tTESTNET\tADDED\tSTATUS")
			for _, c := range creds {
				status := "ok"
				if c.Corrupt {
					status = "corrupt"
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", c.Venue, c.IsTestnet, c.CreatedAt.Format(time.RFC3339), status)
			}
			return tw.Flush()
		},
	}

	remove := &cobra.Command{
		Use:     "delete <venue>",
		Aliases: []string{"rm"},
		Short:   "Delete the API keys for a venue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := opts.wire(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := deps.Credentials.DeleteCredential(cmd.Context(), user, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s credentials for %s\n", args[0], user)
			return nil
		},
	}

	balances := &cobra.Command{
		Use:   "balances <venue>",
		Short: "Show non-zero balances on a venue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := opts.wire(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			bal, err := deps.Credentials.Balances(cmd.Context(), user, args[0])
			if err != nil {
				return err
			}
			assets := make([]string, 0, len(bal))
			for a := range bal {
				assets = append(assets, a)
			}
			sort.Strings(assets)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ASSET\tBALANCE")
			for _, a := range assets {
				fmt.Fprintf(tw, "%s\t%g\n", a, bal[a])
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, list, remove, balances)
	return cmd
}
