package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"desk_server/server/desk/domain"
)

const uniqueViolation = "23505"

const ticketColumns = `tenant_id, ticket_id, client_id, status, department_id, attendant_id,
	first_human_at, closed_at, last_message_at, last_message_preview, created_at, updated_at`

const messageColumns = `tenant_id, message_id, ticket_id, sender_type, sender_user_id, content,
	media_type, media_ref, reply_to_id, read_at, edited_at, original_content, created_at`

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{q: tx}); err != nil {
		return err
	}
	return translate(tx.Commit(ctx))
}

func (s *PostgresStore) GetTicket(ctx context.Context, tenantID, ticketID int64) (domain.Ticket, error) {
	return getTicket(ctx, s.pool, tenantID, ticketID, false)
}

func (s *PostgresStore) ListTickets(ctx context.Context, tenantID int64, filter domain.TicketFilter) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.tenant_id=$1`
	args := []any{tenantID}
	idx := 2

	if filter.Status != nil {
		query += fmt.Sprintf(` AND t.status=$%d`, idx)
		args = append(args, string(*filter.Status))
		idx++
	}
	if filter.DepartmentID != nil {
		query += fmt.Sprintf(` AND t.department_id=$%d`, idx)
		args = append(args, *filter.DepartmentID)
		idx++
	}
	if filter.ClosedSince != nil {
		query += fmt.Sprintf(` AND t.closed_at >= $%d`, idx)
		args = append(args, *filter.ClosedSince)
		idx++
	}
	if filter.AttendantID != nil {
		if filter.Status != nil && *filter.Status == domain.TicketStatusPending {
			query += fmt.Sprintf(` AND EXISTS (
				SELECT 1 FROM department_members dm
				WHERE dm.tenant_id=t.tenant_id AND dm.department_id=t.department_id
				  AND dm.user_id=$%d AND dm.is_active
			)`, idx)
		} else {
			query += fmt.Sprintf(` AND t.attendant_id=$%d`, idx)
		}
		args = append(args, *filter.AttendantID)
		idx++
	}
	query += fmt.Sprintf(` ORDER BY t.last_message_at DESC NULLS LAST, t.ticket_id DESC LIMIT $%d`, idx)
	args = append(args, filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, tenantID, ticketID, messageID int64) (domain.Message, error) {
	return getMessage(ctx, s.pool, tenantID, ticketID, messageID, false)
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID, ticketID int64, limit int, afterID *int64) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id=$1 AND ticket_id=$2`
	args := []any{tenantID, ticketID}
	if afterID != nil {
		query += ` AND message_id > $3 ORDER BY message_id ASC LIMIT $4`
		args = append(args, *afterID, limit)
	} else {
		query += ` ORDER BY message_id ASC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) IsCompanyMember(ctx context.Context, tenantID, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM company_members
			WHERE tenant_id=$1 AND user_id=$2 AND is_active
		)
	`, tenantID, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) NextSequence(ctx context.Context, tenantID int64, seqDomain string) (int64, error) {
	return nextSequence(ctx, s.pool, tenantID, seqDomain)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

type postgresTx struct {
	q querier
}

// LockClient serializes ticket creation per (tenant, client) for the rest of
// the transaction.
func (tx *postgresTx) LockClient(ctx context.Context, tenantID, clientID int64) error {
	_, err := tx.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, clientLockKey(tenantID, clientID))
	return err
}

func clientLockKey(tenantID, clientID int64) string {
	return fmt.Sprintf("tenant:%d:client:%d", tenantID, clientID)
}

func (tx *postgresTx) ClientExists(ctx context.Context, tenantID, clientID int64) (bool, error) {
	var exists bool
	err := tx.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE tenant_id=$1 AND client_id=$2)`,
		tenantID, clientID).Scan(&exists)
	return exists, err
}

func (tx *postgresTx) DepartmentExists(ctx context.Context, tenantID, departmentID int64) (bool, error) {
	var exists bool
	err := tx.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM departments WHERE tenant_id=$1 AND department_id=$2)`,
		tenantID, departmentID).Scan(&exists)
	return exists, err
}

func (tx *postgresTx) IsActiveDepartmentMember(ctx context.Context, tenantID, departmentID, userID int64) (bool, error) {
	var exists bool
	err := tx.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM department_members
			WHERE tenant_id=$1 AND department_id=$2 AND user_id=$3 AND is_active
		)
	`, tenantID, departmentID, userID).Scan(&exists)
	return exists, err
}

func (tx *postgresTx) NextSequence(ctx context.Context, tenantID int64, seqDomain string) (int64, error) {
	return nextSequence(ctx, tx.q, tenantID, seqDomain)
}

func (tx *postgresTx) FindOpenTicket(ctx context.Context, tenantID, clientID int64) (domain.Ticket, bool, error) {
	row := tx.q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE tenant_id=$1 AND client_id=$2 AND status IN ('BOT','PENDING','ACTIVE')
		FOR UPDATE
	`, tenantID, clientID)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, false, nil
	}
	if err != nil {
		return domain.Ticket{}, false, err
	}
	return t, true, nil
}

func (tx *postgresTx) GetTicketForUpdate(ctx context.Context, tenantID, ticketID int64) (domain.Ticket, error) {
	return getTicket(ctx, tx.q, tenantID, ticketID, true)
}

func (tx *postgresTx) InsertTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO tickets(`+ticketColumns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.TenantID, t.ID, t.ClientID, string(t.Status), t.DepartmentID, t.AttendantID,
		t.FirstHumanAt, t.ClosedAt, t.LastMessageAt, t.LastMessagePreview, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, translate(err)
	}
	return t, nil
}

func (tx *postgresTx) UpdateTicket(ctx context.Context, t domain.Ticket) error {
	cmd, err := tx.q.Exec(ctx, `
		UPDATE tickets
		SET status=$3, department_id=$4, attendant_id=$5, first_human_at=$6, closed_at=$7,
		    last_message_at=$8, last_message_preview=$9, updated_at=$10
		WHERE tenant_id=$1 AND ticket_id=$2
	`, t.TenantID, t.ID, string(t.Status), t.DepartmentID, t.AttendantID, t.FirstHumanAt,
		t.ClosedAt, t.LastMessageAt, t.LastMessagePreview, t.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.NotFoundf("ticket %d", t.ID)
	}
	return nil
}

func (tx *postgresTx) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	err := tx.q.QueryRow(ctx, `
		INSERT INTO messages(tenant_id, ticket_id, sender_type, sender_user_id, content, media_type,
		                     media_ref, reply_to_id, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING message_id
	`, m.TenantID, m.TicketID, string(m.SenderType), m.SenderUserID, m.Content, mediaTypeArg(m.MediaType),
		m.MediaRef, m.ReplyToID, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return domain.Message{}, translate(err)
	}
	return m, nil
}

func (tx *postgresTx) GetMessageForUpdate(ctx context.Context, tenantID, ticketID, messageID int64) (domain.Message, error) {
	return getMessage(ctx, tx.q, tenantID, ticketID, messageID, true)
}

func (tx *postgresTx) UpdateMessage(ctx context.Context, m domain.Message) error {
	cmd, err := tx.q.Exec(ctx, `
		UPDATE messages
		SET content=$4, media_type=$5, read_at=$6, edited_at=$7, original_content=$8
		WHERE tenant_id=$1 AND ticket_id=$2 AND message_id=$3
	`, m.TenantID, m.TicketID, m.ID, m.Content, mediaTypeArg(m.MediaType), m.ReadAt, m.EditedAt, m.OriginalContent)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.NotFoundf("message %d", m.ID)
	}
	return nil
}

func (tx *postgresTx) LatestMessageID(ctx context.Context, tenantID, ticketID int64) (int64, error) {
	var id int64
	err := tx.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(message_id), 0) FROM messages WHERE tenant_id=$1 AND ticket_id=$2
	`, tenantID, ticketID).Scan(&id)
	return id, err
}

func (tx *postgresTx) MarkMessageRead(ctx context.Context, tenantID, ticketID, messageID int64, at time.Time) error {
	var exists bool
	err := tx.q.QueryRow(ctx, `
		WITH target AS (
			SELECT message_id FROM messages
			WHERE tenant_id=$1 AND ticket_id=$2 AND message_id=$3
		), stamped AS (
			UPDATE messages SET read_at=$4
			WHERE tenant_id=$1 AND ticket_id=$2 AND message_id=$3 AND read_at IS NULL
		)
		SELECT EXISTS (SELECT 1 FROM target)
	`, tenantID, ticketID, messageID, at).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NotFoundf("message %d", messageID)
	}
	return nil
}

func (tx *postgresTx) MarkMessagesRead(ctx context.Context, tenantID, ticketID int64, olderThanID *int64, at time.Time) (int64, error) {
	query := `UPDATE messages SET read_at=$3 WHERE tenant_id=$1 AND ticket_id=$2 AND read_at IS NULL`
	args := []any{tenantID, ticketID, at}
	if olderThanID != nil {
		query += ` AND message_id <= $4`
		args = append(args, *olderThanID)
	}
	cmd, err := tx.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// nextSequence is a single upsert so concurrent callers never share a value.
func nextSequence(ctx context.Context, q querier, tenantID int64, seqDomain string) (int64, error) {
	var value int64
	err := q.QueryRow(ctx, `
		INSERT INTO sequence_counters(tenant_id, domain, last_value, updated_at)
		VALUES($1, $2, 1, NOW())
		ON CONFLICT (tenant_id, domain)
		DO UPDATE SET last_value = sequence_counters.last_value + 1, updated_at = NOW()
		RETURNING last_value
	`, tenantID, seqDomain).Scan(&value)
	return value, err
}

func getTicket(ctx context.Context, q querier, tenantID, ticketID int64, forUpdate bool) (domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE tenant_id=$1 AND ticket_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTicket(q.QueryRow(ctx, query, tenantID, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, domain.NotFoundf("ticket %d", ticketID)
	}
	return t, err
}

func getMessage(ctx context.Context, q querier, tenantID, ticketID, messageID int64, forUpdate bool) (domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id=$1 AND ticket_id=$2 AND message_id=$3`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMessage(q.QueryRow(ctx, query, tenantID, ticketID, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.NotFoundf("message %d", messageID)
	}
	return m, err
}

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t      domain.Ticket
		status string
	)
	err := row.Scan(&t.TenantID, &t.ID, &t.ClientID, &status, &t.DepartmentID, &t.AttendantID,
		&t.FirstHumanAt, &t.ClosedAt, &t.LastMessageAt, &t.LastMessagePreview, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Status = domain.TicketStatus(status)
	return t, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m          domain.Message
		senderType string
		mediaType  *string
	)
	err := row.Scan(&m.TenantID, &m.ID, &m.TicketID, &senderType, &m.SenderUserID, &m.Content,
		&mediaType, &m.MediaRef, &m.ReplyToID, &m.ReadAt, &m.EditedAt, &m.OriginalContent, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m.SenderType = domain.SenderType(senderType)
	if mediaType != nil && strings.TrimSpace(*mediaType) != "" {
		mt := domain.MediaType(*mediaType)
		m.MediaType = &mt
	}
	return m, nil
}

func mediaTypeArg(mt *domain.MediaType) *string {
	if mt == nil {
		return nil
	}
	v := string(*mt)
	return &v
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
