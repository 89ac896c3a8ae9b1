package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
	"bulknotif/internal/store"
)

func newRecipientsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Inspect recipients and send single messages",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a recipient with delivery counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rc domain.Recipient
			if err := g.client().get(cmd.Context(), "/v1/recipients/"+url.PathEscape(args[0]), nil, &rc); err != nil {
				return err
			}
			return g.printJSON(rc)
		},
	}

	welcome := &cobra.Command{
		Use:   "welcome <id>",
		Short: "Send the welcome message to one recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.sendSingle(cmd, "/v1/recipients/"+url.PathEscape(args[0])+"/welcome", nil)
		},
	}

	var variant int
	test := &cobra.Command{
		Use:   "test <id>",
		Short: "Send a test message to one recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if cmd.Flags().Changed("variant") {
				body = map[string]int{"variant": variant}
			}
			return g.sendSingle(cmd, "/v1/recipients/"+url.PathEscape(args[0])+"/test", body)
		},
	}
	test.Flags().IntVar(&variant, "variant", 0, "pin a test message variant (random when unset)")

	cmd.AddCommand(get, welcome, test)
	return cmd
}

func (g *globals) sendSingle(cmd *cobra.Command, path string, body any) error {
	var res campaign.SingleResult
	if err := g.client().post(cmd.Context(), path, body, &res); err != nil {
		return err
	}
	if g.jsonOut {
		return g.printJSON(res)
	}
	if !res.Outcome.OK {
		_, err := fmt.Fprintf(g.out, "%s message to %s failed: %s\n", res.Kind, res.RecipientID, res.Outcome.Error)
		return err
	}
	_, err := fmt.Fprintf(g.out, "%s message to %s sent (%s)\n", res.Kind, res.RecipientID, res.Outcome.ProviderID)
	return err
}

func newProviderCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "provider",
		Short: "Show provider configuration, suppression and breaker state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw map[string]any
			if err := g.client().get(cmd.Context(), "/v1/provider", nil, &raw); err != nil {
				return err
			}
			return g.printJSON(raw)
		},
	}
}

func newStatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st store.DeliveryStats
			if err := g.client().get(cmd.Context(), "/v1/stats", nil, &st); err != nil {
				return err
			}
			if g.jsonOut {
				return g.printJSON(st)
			}
			_, err := fmt.Fprintf(g.out, "sent: %d\nfailed: %d\nsent this month: %d\n", st.Sent, st.Failed, st.SentThisMonth)
			return err
		},
	}
}
