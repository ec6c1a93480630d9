package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/id"
	"github.com/alanyoungcy/pairbot/internal/notify"
)

func newTradeCmd(opts *globalOpts) *cobra.Command {
	var (
		user, requestID string
		raw             domain.RawIntent
		asJSON          bool
	)
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Open a pair trade: long on --base, short on --quote",
		Long: `Open a pair trade with the user's stored credentials.

--tp takes "percent volume_percent", e.g. "0.7 100".
--sl takes "percent [trailing [breakeven]]" with 0/1 flags, e.g. "2 1 0".
Leave either empty or "0" to skip it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, cleanup, err := opts.wire(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			in, err := deps.Validator.Validate(raw)
			if err != nil {
				return err
			}
			if requestID == "" {
				requestID = id.New()
			}

			out, err := deps.Trades.ExecutePairTrade(cmd.Context(), user, requestID, in)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n%s\n", notify.OutcomeTitle(out), out.ID, notify.FormatOutcome(out))
			if out.Status != domain.TradeCompleted {
				return fmt.Errorf("trade %s finished as %s", out.ID, out.Status)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&user, "user", "u", "", "user id")
	f.StringVar(&raw.BaseVenue, "base", "", "venue for the long leg")
	f.StringVar(&raw.QuoteVenue, "quote", "", "venue for the short leg")
	f.StringVar(&raw.Instrument, "instrument", "", "instrument, e.g. BTC/USDT")
	f.StringVar(&raw.NotionalUSD, "notional", "", "notional per leg in USD")
	f.StringVar(&raw.TakeProfit, "tp", "", "take profit: \"percent volume_percent\"")
	f.StringVar(&raw.StopLoss, "sl", "", "stop loss: \"percent [trailing [breakeven]]\"")
	f.StringVar(&requestID, "request-id", "", "idempotency key (default: generated)")
	f.BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	for _, name := range []string{"user", "base", "quote", "instrument", "notional"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
