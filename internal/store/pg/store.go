package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulknotif/internal/domain"
	"bulknotif/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

const recipientColumns = `id, name, phone, role, active, opted_in,
	COALESCE(institution_id,''), COALESCE(institution_name,''), COALESCE(institution_type,''), COALESCE(class_year,''),
	weekly_count, monthly_count, yearly_count, custom_count, total_count, last_delivery_at, created_at`

func scanRecipient(row pgx.Row) (domain.Recipient, error) {
	var r domain.Recipient
	var instType string
	err := row.Scan(&r.ID, &r.Name, &r.Phone, &r.Role, &r.Active, &r.OptedIn,
		&r.InstitutionID, &r.InstitutionName, &instType, &r.ClassYear,
		&r.Counters.Weekly, &r.Counters.Monthly, &r.Counters.Yearly, &r.Counters.Custom, &r.Counters.Total,
		&r.LastDeliveryAt, &r.CreatedAt)
	r.InstitutionType = domain.InstitutionType(instType)
	return r, err
}

// Cohort returns active, opted-in students matching the audience, oldest first.
func (s *Store) Cohort(ctx context.Context, a domain.Audience) ([]domain.Recipient, error) {
	var q query
	q.where("active")
	q.where("opted_in")
	q.where("role = " + q.arg(domain.RoleStudent))
	switch a.Target {
	case domain.TargetSchool, domain.TargetCollege:
		q.where("institution_type = " + q.arg(string(a.InstitutionType)))
	case domain.TargetSpecificInstitution:
		q.where("institution_id = " + q.arg(a.InstitutionID))
	}

	rows, err := s.DB.Query(ctx, `SELECT `+recipientColumns+` FROM recipients`+q.clause()+` ORDER BY created_at, id`, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Recipient{}
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Recipient(ctx context.Context, id string) (domain.Recipient, error) {
	r, err := scanRecipient(s.DB.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Recipient{}, fmt.Errorf("recipient %s: %w", id, domain.ErrNotFound)
	}
	return r, err
}

// UpsertRecipient syncs profile fields from the registration system. Counters
// and the last delivery time are never touched here.
func (s *Store) UpsertRecipient(ctx context.Context, r domain.Recipient, now time.Time) error {
	role := r.Role
	if role == "" {
		role = domain.RoleStudent
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO recipients (id, name, phone, role, active, opted_in, institution_id, institution_name, institution_type, class_year, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, phone=EXCLUDED.phone, role=EXCLUDED.role, active=EXCLUDED.active,
			opted_in=EXCLUDED.opted_in, institution_id=EXCLUDED.institution_id,
			institution_name=EXCLUDED.institution_name, institution_type=EXCLUDED.institution_type,
			class_year=EXCLUDED.class_year, updated_at=EXCLUDED.updated_at
	`, r.ID, r.Name, r.Phone, role, r.Active, r.OptedIn, nullIfEmpty(r.InstitutionID), nullIfEmpty(r.InstitutionName),
		nullIfEmpty(string(r.InstitutionType)), nullIfEmpty(r.ClassYear), now)
	return err
}

var counterColumns = map[domain.Counter]string{
	domain.CounterWeekly:  "weekly_count",
	domain.CounterMonthly: "monthly_count",
	domain.CounterYearly:  "yearly_count",
	domain.CounterCustom:  "custom_count",
}

// RecordDelivery bumps the per-kind counter, the total and the last delivery time
// in a single statement.
func (s *Store) RecordDelivery(ctx context.Context, id string, counter domain.Counter, at time.Time) error {
	set := "total_count = total_count + 1, last_delivery_at = $2, updated_at = now()"
	if col, ok := counterColumns[counter]; ok {
		set = col + " = " + col + " + 1, " + set
	}
	ct, err := s.DB.Exec(ctx, `UPDATE recipients SET `+set+` WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("recipient %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateCampaign(ctx context.Context, in store.CampaignInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO campaigns (id, title, message, kind, target, institution_type, institution_id, status,
			recipient_count, trigger_name, created_by, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, in.ID, in.Title, nullIfEmpty(in.Message), in.Kind, in.Audience.Target, nullIfEmpty(string(in.Audience.InstitutionType)),
		nullIfEmpty(in.Audience.InstitutionID), in.Status, in.RecipientCount, nullIfEmpty(in.TriggerName), in.CreatedBy,
		in.Now, in.CompletedAt)
	return err
}

// FinalizeCampaign moves a pending campaign to its terminal status. It only ever
// succeeds once per campaign.
func (s *Store) FinalizeCampaign(ctx context.Context, in store.CampaignFinalize) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, success_count=$3, failed_count=$4, completed_at=$5
		WHERE id=$1 AND status='pending'
	`, in.ID, in.Status, in.SuccessCount, in.FailedCount, in.CompletedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s is not pending: %w", in.ID, domain.ErrNotFound)
	}
	return nil
}

const campaignColumns = `id, title, COALESCE(message,''), kind, target, COALESCE(institution_type,''), COALESCE(institution_id,''),
	status, recipient_count, success_count, failed_count, COALESCE(trigger_name,''), created_by, created_at, completed_at`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var c domain.Campaign
	var instType string
	err := row.Scan(&c.ID, &c.Title, &c.Message, &c.Kind, &c.Audience.Target, &instType, &c.Audience.InstitutionID,
		&c.Status, &c.RecipientCount, &c.SuccessCount, &c.FailedCount, &c.TriggerName, &c.CreatedBy, &c.CreatedAt, &c.CompletedAt)
	c.Audience.InstitutionType = domain.InstitutionType(instType)
	return c, err
}

func (s *Store) Campaign(ctx context.Context, id string) (domain.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

func (s *Store) ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, error) {
	var q query
	if f.Kind != "" {
		q.where("kind = " + q.arg(string(f.Kind)))
	}
	if f.Status != "" {
		q.where("status = " + q.arg(string(f.Status)))
	}
	sql := `SELECT ` + campaignColumns + ` FROM campaigns` + q.clause() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + q.arg(store.ClampLimit(f.Limit)) + ` OFFSET ` + q.arg(max(f.Offset, 0))
	return s.queryCampaigns(ctx, sql, q.args...)
}

// PendingCampaigns lists campaigns created before cutoff that never finalized,
// which after a crash are orphans.
func (s *Store) PendingCampaigns(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE status='pending' AND created_at < $1 ORDER BY created_at`, cutoff)
}

func (s *Store) queryCampaigns(ctx context.Context, sql string, args ...any) ([]domain.Campaign, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AppendDeliveryRecord(ctx context.Context, rec domain.DeliveryRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_records (id, recipient_id, campaign_id, phone, body, kind, status, provider_msg_id, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.RecipientID, rec.CampaignID, rec.Phone, nullIfEmpty(rec.Body), rec.Kind, rec.Status,
		nullIfEmpty(rec.ProviderMessageID), nullIfEmpty(rec.Error), rec.CreatedAt)
	return err
}

// ListDeliveryRecords returns records newest first, with delivered/read times
// taken from provider status callbacks.
func (s *Store) ListDeliveryRecords(ctx context.Context, f store.RecordFilter) ([]domain.DeliveryRecord, error) {
	var q query
	if f.Kind != "" {
		q.where("d.kind = " + q.arg(string(f.Kind)))
	}
	if f.Status != "" {
		q.where("d.status = " + q.arg(string(f.Status)))
	}
	if f.RecipientID != "" {
		q.where("d.recipient_id = " + q.arg(f.RecipientID))
	}
	if f.CampaignID != "" {
		q.where("d.campaign_id = " + q.arg(f.CampaignID))
	}
	sql := `
		SELECT d.id, d.recipient_id, d.campaign_id, d.phone, COALESCE(d.body,''), d.kind, d.status,
			COALESCE(d.provider_msg_id,''), COALESCE(d.error,''), d.created_at, ev.delivered_at, ev.read_at
		FROM delivery_records d
		LEFT JOIN LATERAL (
			SELECT min(e.occurred_at) FILTER (WHERE e.status = 'delivered') AS delivered_at,
			       min(e.occurred_at) FILTER (WHERE e.status = 'read') AS read_at
			FROM delivery_status_events e
			WHERE e.provider_msg_id = d.provider_msg_id
		) ev ON d.provider_msg_id IS NOT NULL` + q.clause() + `
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT ` + q.arg(store.ClampLimit(f.Limit)) + ` OFFSET ` + q.arg(max(f.Offset, 0))

	rows, err := s.DB.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DeliveryRecord{}
	for rows.Next() {
		var r domain.DeliveryRecord
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.CampaignID, &r.Phone, &r.Body, &r.Kind, &r.Status,
			&r.ProviderMessageID, &r.Error, &r.CreatedAt, &r.DeliveredAt, &r.ReadAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeliveryStats counts records by outcome; SentThisMonth counts sends since monthStart.
func (s *Store) DeliveryStats(ctx context.Context, monthStart time.Time) (store.DeliveryStats, error) {
	var st store.DeliveryStats
	err := s.DB.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE status='sent'),
		       count(*) FILTER (WHERE status='failed'),
		       count(*) FILTER (WHERE status='sent' AND created_at >= $1)
		FROM delivery_records
	`, monthStart).Scan(&st.Sent, &st.Failed, &st.SentThisMonth)
	return st, err
}

func (s *Store) InsertStatusEvent(ctx context.Context, in store.StatusEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_status_events (provider, provider_msg_id, status, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ProviderMessageID, in.Status, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

// query accumulates WHERE conditions and positional arguments.
type query struct {
	conds []string
	args  []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) where(cond string) { q.conds = append(q.conds, cond) }

func (q *query) clause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
