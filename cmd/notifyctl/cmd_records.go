package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"bulknotif/internal/domain"
)

type recordQuery struct {
	kind, status, recipient, campaign string
	limit, offset                     int
}

func (rq *recordQuery) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rq.kind, "kind", "", "filter by kind")
	cmd.Flags().StringVar(&rq.status, "status", "", "sent or failed")
	cmd.Flags().StringVar(&rq.recipient, "recipient", "", "filter by recipient id")
	cmd.Flags().StringVar(&rq.campaign, "campaign", "", "filter by campaign id")
	cmd.Flags().IntVar(&rq.limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&rq.offset, "offset", 0, "page offset")
}

func (rq *recordQuery) values() url.Values {
	q := url.Values{}
	setIf(q, "kind", rq.kind)
	setIf(q, "status", rq.status)
	setIf(q, "recipientId", rq.recipient)
	setIf(q, "campaignId", rq.campaign)
	setIf(q, "limit", nonZero(rq.limit))
	setIf(q, "offset", nonZero(rq.offset))
	return q
}

func (g *globals) fetchRecords(cmd *cobra.Command, q url.Values) ([]domain.DeliveryRecord, error) {
	var resp struct {
		Records []domain.DeliveryRecord `json:"records"`
	}
	err := g.client().get(cmd.Context(), "/v1/delivery-records", q, &resp)
	return resp.Records, err
}

func newRecordsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query the delivery audit log",
	}

	var lq recordQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent delivery records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := g.fetchRecords(cmd, lq.values())
			if err != nil {
				return err
			}
			if g.jsonOut {
				return g.printJSON(recs)
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{
					r.ID, r.RecipientID, r.Phone, string(r.Kind), string(r.Status),
					formatTime(&r.CreatedAt), formatTime(r.DeliveredAt), formatTime(r.ReadAt), r.Error,
				})
			}
			return g.table([]string{"ID", "RECIPIENT", "PHONE", "KIND", "STATUS", "SENT", "DELIVERED", "READ", "ERROR"}, rows)
		},
	}
	lq.bind(list)

	var eq recordQuery
	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export delivery records to an .xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := g.fetchRecords(cmd, eq.values())
			if err != nil {
				return err
			}
			if err := writeRecordsWorkbook(outPath, recs); err != nil {
				return err
			}
			_, err = fmt.Fprintf(g.out, "wrote %d records to %s\n", len(recs), outPath)
			return err
		},
	}
	eq.bind(export)
	export.Flags().StringVarP(&outPath, "out", "o", "delivery_records.xlsx", "output file")

	cmd.AddCommand(list, export)
	return cmd
}

const recordsSheet = "Delivery records"

var recordsHeader = []string{"id", "recipient_id", "campaign_id", "phone", "kind", "status", "provider_message_id", "error", "created_at", "delivered_at", "read_at", "body"}

func writeRecordsWorkbook(path string, recs []domain.DeliveryRecord) error {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), recordsSheet); err != nil {
		return err
	}
	header := recordsHeader
	if err := xl.SetSheetRow(recordsSheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range recs {
		campaignID := ""
		if r.CampaignID != nil {
			campaignID = *r.CampaignID
		}
		row := []string{
			r.ID, r.RecipientID, campaignID, r.Phone, string(r.Kind), string(r.Status),
			r.ProviderMessageID, r.Error, rfc3339(&r.CreatedAt), rfc3339(r.DeliveredAt), rfc3339(r.ReadAt), r.Body,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(recordsSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := xl.SetPanes(recordsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return xl.SaveAs(path)
}

func rfc3339(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
