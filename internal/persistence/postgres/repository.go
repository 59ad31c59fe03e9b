package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/bulletin/internal/domain"
	"example.com/bulletin/internal/observability"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const activityColumns = `activity_id, event_type, title, description, image_ids, publish_at, status,
        auto_delete_at, auto_archive_at, created_by, created_at, updated_at, version, payload`

// Repository provides Postgres-backed persistence for activities and their
// votes, ledgers and submissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertActivity persists a new activity row.
func (r *Repository) InsertActivity(ctx context.Context, a domain.Activity) error {
	payload, err := domain.EncodePayload(a.Payload)
	if err != nil {
		return err
	}
	if a.Version == 0 {
		a.Version = 1
	}

	const stmt = `INSERT INTO activities (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = r.pool.Exec(ctx, stmt,
		a.ID,
		a.EventType,
		a.Title,
		a.Description,
		imageIDs(a.ImageIDs),
		a.PublishAt,
		a.Status,
		a.AutoDeleteAt,
		a.AutoArchiveAt,
		a.CreatedBy,
		a.CreatedAt,
		a.UpdatedAt,
		a.Version,
		payload,
	)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return fmt.Errorf("%w: activity %s already exists", domain.ErrConflict, a.ID)
		}
		return err
	}
	observability.RecordActivityPersisted(a.UpdatedAt)
	return nil
}

// GetActivity retrieves an activity by ID, returning nil when it does not exist.
func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, id)
	a, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// ListActivities returns the activities matching filter ordered by publish time.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, error) {
	query, args := buildListQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func buildListQuery(f domain.ActivityFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.PublishAtOrBefore != nil {
		add("publish_at <= $%d", *f.PublishAtOrBefore)
	}
	if f.PublishAfter != nil {
		add("publish_at > $%d", *f.PublishAfter)
	}
	if f.AutoDeleteAtOrBefore != nil {
		add("auto_delete_at <= $%d", *f.AutoDeleteAtOrBefore)
	}
	if f.AutoArchiveAtOrBefore != nil {
		add("auto_archive_at <= $%d", *f.AutoArchiveAtOrBefore)
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY publish_at, activity_id`
	return query, args
}

// UpdateActivity overwrites the activity when the stored version matches a.Version.
func (r *Repository) UpdateActivity(ctx context.Context, a domain.Activity) error {
	payload, err := domain.EncodePayload(a.Payload)
	if err != nil {
		return err
	}

	const stmt = `UPDATE activities
        SET title=$3, description=$4, image_ids=$5, publish_at=$6, status=$7,
            auto_delete_at=$8, auto_archive_at=$9, updated_at=$10, payload=$11, version=version+1
        WHERE activity_id=$1 AND version=$2`

	tag, err := r.pool.Exec(ctx, stmt,
		a.ID,
		a.Version,
		a.Title,
		a.Description,
		imageIDs(a.ImageIDs),
		a.PublishAt,
		a.Status,
		a.AutoDeleteAt,
		a.AutoArchiveAt,
		a.UpdatedAt,
		payload,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM activities WHERE activity_id=$1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: activity %s was modified concurrently", domain.ErrConflict, a.ID)
	}
	observability.RecordActivityPersisted(a.UpdatedAt)
	return nil
}

// SetStatus transitions the activity when its version still equals expectedVersion.
func (r *Repository) SetStatus(ctx context.Context, id string, expectedVersion int64, status domain.Status, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET status=$3, updated_at=$4, version=version+1 WHERE activity_id=$1 AND version=$2`,
		id, expectedVersion, status, at,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	observability.RecordActivityPersisted(at)
	return true, nil
}

// DeleteActivity removes the activity; votes, ledgers and submissions go with
// it through ON DELETE CASCADE.
func (r *Repository) DeleteActivity(ctx context.Context, id string, expectedVersion int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM activities WHERE activity_id=$1 AND ($2::bigint = 0 OR version=$2)`,
		id, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CastPollVote locks the poll row, runs fn and upserts the resulting vote in
// one transaction.
func (r *Repository) CastPollVote(ctx context.Context, activityID string, fn domain.PollVoteFunc) (vote *domain.PollVote, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	activity, err := lockActivity(ctx, tx, activityID)
	if err != nil {
		return nil, err
	}

	result, modified, err := fn(&activity)
	if err != nil {
		return nil, err
	}
	if modified {
		if err = writePayload(ctx, tx, activity); err != nil {
			return nil, err
		}
	}

	selections, err := json.Marshal(result.Selections)
	if err != nil {
		return nil, err
	}
	const upsert = `INSERT INTO poll_votes (activity_id, voter_id, selections, updated_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (activity_id, voter_id) DO UPDATE SET selections=EXCLUDED.selections, updated_at=EXCLUDED.updated_at`
	if _, err = tx.Exec(ctx, upsert, activityID, result.VoterID, selections, result.UpdatedAt); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPollVote returns the voter's vote or nil.
func (r *Repository) GetPollVote(ctx context.Context, activityID, voterID string) (*domain.PollVote, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT activity_id, voter_id, selections, updated_at FROM poll_votes WHERE activity_id=$1 AND voter_id=$2`,
		activityID, voterID,
	)
	vote, err := scanPollVote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

// ListPollVotes returns all votes of a poll ordered by voter.
func (r *Repository) ListPollVotes(ctx context.Context, activityID string) ([]domain.PollVote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, voter_id, selections, updated_at FROM poll_votes WHERE activity_id=$1 ORDER BY voter_id`,
		activityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := make([]domain.PollVote, 0)
	for rows.Next() {
		vote, err := scanPollVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}
	return votes, rows.Err()
}

// ApplyVotePurchase locks the voting row, runs fn with the purchaser's
// ledger and writes the updated balances and ledger in one transaction.
func (r *Repository) ApplyVotePurchase(ctx context.Context, activityID, purchaserID string, fn domain.PurchaseFunc) (updated *domain.Activity, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	activity, err := lockActivity(ctx, tx, activityID)
	if err != nil {
		return nil, err
	}

	ledger, err := readLedger(ctx, tx, activityID, purchaserID)
	if err != nil {
		return nil, err
	}

	next, err := fn(&activity, ledger)
	if err != nil {
		return nil, err
	}
	if err = writePayload(ctx, tx, activity); err != nil {
		return nil, err
	}

	const upsert = `INSERT INTO voting_ledgers (activity_id, purchaser_id, add_votes_purchased, remove_votes_purchased, updated_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (activity_id, purchaser_id) DO UPDATE
        SET add_votes_purchased=EXCLUDED.add_votes_purchased,
            remove_votes_purchased=EXCLUDED.remove_votes_purchased,
            updated_at=EXCLUDED.updated_at`
	if _, err = tx.Exec(ctx, upsert, activityID, purchaserID, next.AddVotesPurchased, next.RemoveVotesPurchased, next.UpdatedAt); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	activity.Version++
	observability.RecordActivityPersisted(activity.UpdatedAt)
	return &activity, nil
}

// GetPurchaseLedger returns the purchaser's ledger, zero-valued when absent.
func (r *Repository) GetPurchaseLedger(ctx context.Context, activityID, purchaserID string) (domain.PurchaseLedger, error) {
	return readLedger(ctx, r.pool, activityID, purchaserID)
}

// HasFormSubmission reports whether the user has submitted the form.
func (r *Repository) HasFormSubmission(ctx context.Context, activityID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM form_submissions WHERE activity_id=$1 AND user_id=$2)`,
		activityID, userID,
	).Scan(&exists)
	return exists, err
}

// InsertFormSubmission stores a submission. With singlePerUser the
// (activity_id, single_user_id) unique key rejects a second row for the user.
func (r *Repository) InsertFormSubmission(ctx context.Context, sub domain.FormSubmission, singlePerUser bool) error {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}
	var payment []byte
	if sub.Payment != nil {
		if payment, err = json.Marshal(sub.Payment); err != nil {
			return err
		}
	}
	var singleUser *string
	if singlePerUser {
		singleUser = &sub.UserID
	}

	const stmt = `INSERT INTO form_submissions (submission_id, activity_id, user_id, single_user_id, answers, payment, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.pool.Exec(ctx, stmt, sub.ID, sub.ActivityID, sub.UserID, singleUser, answers, payment, sub.CreatedAt)
	switch pgCode(err) {
	case "":
		return err
	case uniqueViolation:
		if singlePerUser {
			return domain.ErrAlreadySubmitted
		}
		return fmt.Errorf("%w: submission %s already exists", domain.ErrConflict, sub.ID)
	case foreignKeyViolation:
		return domain.ErrNotFound
	}
	return err
}

// ListFormSubmissions pages submissions by (created_at, submission_id) ascending.
func (r *Repository) ListFormSubmissions(ctx context.Context, activityID string, cursor *domain.Cursor, limit int) ([]domain.FormSubmission, *domain.Cursor, error) {
	args := []any{activityID, limit}
	query := `SELECT submission_id, activity_id, user_id, answers, payment, created_at
        FROM form_submissions WHERE activity_id=$1`
	if cursor != nil {
		query += ` AND (created_at, submission_id) > ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at, submission_id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.FormSubmission, 0, limit)
	for rows.Next() {
		var (
			sub     domain.FormSubmission
			answers []byte
			payment []byte
		)
		if err := rows.Scan(&sub.ID, &sub.ActivityID, &sub.UserID, &answers, &payment, &sub.CreatedAt); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal(answers, &sub.Answers); err != nil {
			return nil, nil, fmt.Errorf("decode answers of %s: %w", sub.ID, err)
		}
		if len(payment) > 0 {
			sub.Payment = &domain.PaymentRecord{}
			if err := json.Unmarshal(payment, sub.Payment); err != nil {
				return nil, nil, fmt.Errorf("decode payment of %s: %w", sub.ID, err)
			}
		}
		results = append(results, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lockActivity(ctx context.Context, tx pgx.Tx, id string) (domain.Activity, error) {
	row := tx.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1 FOR UPDATE`, id)
	a, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Activity{}, domain.ErrNotFound
	}
	return a, err
}

func writePayload(ctx context.Context, tx pgx.Tx, a domain.Activity) error {
	payload, err := domain.EncodePayload(a.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE activities SET payload=$2, updated_at=$3, version=version+1 WHERE activity_id=$1`,
		a.ID, payload, a.UpdatedAt,
	)
	return err
}

func readLedger(ctx context.Context, q queryRower, activityID, purchaserID string) (domain.PurchaseLedger, error) {
	ledger := domain.PurchaseLedger{ActivityID: activityID, PurchaserID: purchaserID}
	err := q.QueryRow(ctx,
		`SELECT add_votes_purchased, remove_votes_purchased, updated_at FROM voting_ledgers WHERE activity_id=$1 AND purchaser_id=$2`,
		activityID, purchaserID,
	).Scan(&ledger.AddVotesPurchased, &ledger.RemoveVotesPurchased, &ledger.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger, nil
	}
	return ledger, err
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a       domain.Activity
		payload []byte
	)
	if err := row.Scan(
		&a.ID,
		&a.EventType,
		&a.Title,
		&a.Description,
		&a.ImageIDs,
		&a.PublishAt,
		&a.Status,
		&a.AutoDeleteAt,
		&a.AutoArchiveAt,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
		&payload,
	); err != nil {
		return domain.Activity{}, err
	}
	decoded, err := domain.DecodePayload(a.EventType, payload)
	if err != nil {
		return domain.Activity{}, err
	}
	a.Payload = decoded
	return a, nil
}

func scanPollVote(row pgx.Row) (domain.PollVote, error) {
	var (
		vote       domain.PollVote
		selections []byte
	)
	if err := row.Scan(&vote.ActivityID, &vote.VoterID, &selections, &vote.UpdatedAt); err != nil {
		return domain.PollVote{}, err
	}
	if err := json.Unmarshal(selections, &vote.Selections); err != nil {
		return domain.PollVote{}, fmt.Errorf("decode selections: %w", err)
	}
	return vote, nil
}

func imageIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
