package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"bulknotif/internal/campaign"
	"bulknotif/internal/domain"
)

func newCampaignsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Run custom campaigns and inspect past runs",
	}

	var (
		title, message, target, instType, instID, createdBy string
	)
	custom := &cobra.Command{
		Use:   "custom",
		Short: "Send a custom message to an audience; {name} is replaced per recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"title":     title,
				"message":   message,
				"createdBy": createdBy,
				"audience": map[string]string{
					"target":          target,
					"institutionType": instType,
					"institutionId":   instID,
				},
			}
			var res campaign.Result
			if err := g.client().post(cmd.Context(), "/v1/campaigns/custom", body, &res); err != nil {
				return err
			}
			return g.printResult(res)
		},
	}
	custom.Flags().StringVar(&title, "title", "", "campaign title")
	custom.Flags().StringVarP(&message, "message", "m", "", "message body")
	custom.Flags().StringVar(&target, "target", "all", "all, school, college or specific_institution")
	custom.Flags().StringVar(&instType, "institution-type", "", "school or college")
	custom.Flags().StringVar(&instID, "institution-id", "", "institution id for specific_institution")
	custom.Flags().StringVar(&createdBy, "created-by", "", "operator name recorded on the campaign")
	_ = custom.MarkFlagRequired("message")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a campaign's status and counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c domain.Campaign
			if err := g.client().get(cmd.Context(), "/v1/campaigns/"+url.PathEscape(args[0]), nil, &c); err != nil {
				return err
			}
			if g.jsonOut {
				return g.printJSON(c)
			}
			return g.campaignTable([]domain.Campaign{c})
		},
	}

	var kind, status string
	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "kind", kind)
			setIf(q, "status", status)
			setIf(q, "limit", nonZero(limit))
			setIf(q, "offset", nonZero(offset))
			return g.listCampaigns(cmd, "/v1/campaigns", q)
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "filter by kind")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 0, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	var olderThan string
	orphans := &cobra.Command{
		Use:   "orphans",
		Short: "List campaigns stuck in pending after a dispatcher crash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "olderThan", olderThan)
			return g.listCampaigns(cmd, "/v1/campaigns/orphans", q)
		},
	}
	orphans.Flags().StringVar(&olderThan, "older-than", "", "minimum pending age, e.g. 2h (server default when empty)")

	cmd.AddCommand(custom, get, list, orphans)
	return cmd
}

func (g *globals) listCampaigns(cmd *cobra.Command, path string, q url.Values) error {
	var resp struct {
		Campaigns []domain.Campaign `json:"campaigns"`
	}
	if err := g.client().get(cmd.Context(), path, q, &resp); err != nil {
		return err
	}
	if g.jsonOut {
		return g.printJSON(resp)
	}
	return g.campaignTable(resp.Campaigns)
}

func (g *globals) campaignTable(cs []domain.Campaign) error {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []string{
			c.ID, string(c.Kind), string(c.Status), c.Title,
			fmt.Sprintf("%d/%d/%d", c.SuccessCount, c.FailedCount, c.RecipientCount),
			formatTime(&c.CreatedAt), formatTime(c.CompletedAt),
		})
	}
	return g.table([]string{"ID", "KIND", "STATUS", "TITLE", "OK/FAILED/TOTAL", "CREATED", "COMPLETED"}, rows)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func nonZero(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
