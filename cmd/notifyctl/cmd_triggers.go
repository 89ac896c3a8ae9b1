package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bulknotif/internal/campaign"
	"bulknotif/internal/scheduler"
)

func newTriggersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "List and fire scheduled triggers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List triggers with their next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Triggers []scheduler.TriggerInfo `json:"triggers"`
			}
			if err := g.client().get(cmd.Context(), "/v1/triggers", nil, &resp); err != nil {
				return err
			}
			if g.jsonOut {
				return g.printJSON(resp)
			}
			rows := make([][]string, 0, len(resp.Triggers))
			for _, t := range resp.Triggers {
				last := "-"
				if t.LastRun != nil {
					last = fmt.Sprintf("%s %s (%d ok / %d failed)", formatTime(&t.LastRun.At), t.LastRun.Status, t.LastRun.Success, t.LastRun.Failed)
				}
				next := t.Next
				rows = append(rows, []string{t.Name, t.Spec, string(t.Kind), string(t.Audience.Target), formatTime(&next), fmt.Sprint(t.Running), last})
			}
			return g.table([]string{"NAME", "SPEC", "KIND", "AUDIENCE", "NEXT", "RUNNING", "LAST RUN"}, rows)
		},
	}

	fire := &cobra.Command{
		Use:   "fire <name>",
		Short: "Run a trigger now and wait for the campaign to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res campaign.Result
			if err := g.client().post(cmd.Context(), "/v1/triggers/"+args[0]+"/fire", nil, &res); err != nil {
				return err
			}
			return g.printResult(res)
		},
	}

	cmd.AddCommand(list, fire)
	return cmd
}

func (g *globals) printResult(res campaign.Result) error {
	if g.jsonOut {
		return g.printJSON(res)
	}
	_, err := fmt.Fprintf(g.out, "campaign %s %s: %d recipients, %d sent, %d failed\n",
		res.CampaignID, res.Status, res.Recipients, res.Success, res.Failed)
	return err
}
