package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// optionalColumns lists, per table, the columns that may be elided when the
// live schema predates them. Only these columns are ever stripped; required
// fields are never silently dropped.
var optionalColumns = map[string][]string{
	"interview_sessions": {"interview_type"},
	"interview_messages": {"message_type"},
	"interview_reports":  {"interview_type"},
}

// execer is the write surface of *sql.DB, split out so the degradation path
// can be exercised without a live database.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store durably appends sessions, messages and reports to PostgreSQL,
// degrading gracefully when optional columns are absent from the schema.
type Store struct {
	db   *sql.DB
	exec execer
	caps *Capabilities
}

// Open connects to PostgreSQL at connStr and applies migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{db: db, exec: db, caps: NewCapabilities()}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Degraded lists the optional columns proven missing from the live schema,
// as "table.column" strings. Empty on a current schema.
func (s *Store) Degraded() []string {
	return s.caps.Unwritable()
}

// record is an ordered column/value list for one row write.
type record struct {
	cols []string
	vals []any
}

func (r *record) add(col string, val any) {
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, val)
}

func (r record) without(col string) record {
	out := record{cols: make([]string, 0, len(r.cols)), vals: make([]any, 0, len(r.vals))}
	for i, c := range r.cols {
		if c != col {
			out.add(c, r.vals[i])
		}
	}
	return out
}

// SaveSession upserts a session row, keyed by id.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	var rec record
	rec.add("id", sess.ID)
	rec.add("applicant_id", sess.ApplicantID)
	rec.add("start_time", sess.StartTime.UTC())
	rec.add("end_time", nullableTime(sess.EndTime))
	rec.add("status", string(sess.Status))
	rec.add("resume_data", sess.ResumeData)
	if sess.Modality != "" {
		rec.add("interview_type", string(sess.Modality))
	}
	return s.write(ctx, "session", "interview_sessions", rec, "id")
}

// AppendMessage inserts one conversational turn.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	var rec record
	rec.add("id", msg.ID)
	rec.add("session_id", msg.SessionID)
	rec.add("role", string(msg.Role))
	rec.add("content", msg.Content)
	rec.add("timestamp", msg.Timestamp.UTC())
	if msg.MediaKind != "" {
		rec.add("message_type", msg.MediaKind)
	}
	return s.write(ctx, "message", "interview_messages", rec, "")
}

// SaveReport inserts the end-of-session assessment.
func (s *Store) SaveReport(ctx context.Context, rep *Report) error {
	var rec record
	rec.add("id", rep.ID)
	rec.add("session_id", rep.SessionID)
	rec.add("applicant_id", rep.ApplicantID)
	rec.add("report_content", rep.ReportContent)
	rec.add("interview_duration", rep.InterviewDuration)
	rec.add("total_questions", rep.TotalQuestions)
	rec.add("generated_at", rep.GeneratedAt.UTC())
	rec.add("status", rep.Status)
	if rep.Modality != "" {
		rec.add("interview_type", string(rep.Modality))
	}
	return s.write(ctx, "report", "interview_reports", rec, "id")
}

// write attempts the full record, then retries at most once with the column
// a classified failure names stripped, provided that column is optional.
// Columns already proven unwritable are skipped on the first attempt.
func (s *Store) write(ctx context.Context, op, table string, rec record, conflictKey string) error {
	for _, col := range optionalColumns[table] {
		if !s.caps.IsWritable(table, col) {
			rec = rec.without(col)
		}
	}

	err := s.execWrite(ctx, table, rec, conflictKey)
	if err == nil {
		return nil
	}

	var unknown *UnknownColumnError
	if !errors.As(classifyColumnError(table, err), &unknown) || !isOptional(table, unknown.Column) {
		return &PersistError{Op: op, Err: err}
	}

	s.caps.MarkUnwritable(table, unknown.Column)
	if retryErr := s.execWrite(ctx, table, rec.without(unknown.Column), conflictKey); retryErr != nil {
		return &PersistError{Op: op, Err: retryErr}
	}
	return nil
}

func (s *Store) execWrite(ctx context.Context, table string, rec record, conflictKey string) error {
	_, err := s.exec.ExecContext(ctx, buildInsert(table, rec.cols, conflictKey), rec.vals...)
	return err
}

func buildInsert(table string, cols []string, conflictKey string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if conflictKey != "" {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", conflictKey)
		first := true
		for _, c := range cols {
			if c == conflictKey {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = EXCLUDED.%s", c, c)
			first = false
		}
	}
	return b.String()
}

func isOptional(table, column string) bool {
	for _, c := range optionalColumns[table] {
		if c == column {
			return true
		}
	}
	return false
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// optionalSelect returns "expr" when the optional column is still believed
// writable, otherwise a NULL literal so reads work against lagging schemas.
// Reads learn missing columns the same way writes do: classify and retry once.
func (s *Store) optionalSelect(table, column string) string {
	if s.caps.IsWritable(table, column) {
		return column
	}
	return "NULL"
}

// GetSession returns a single session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.getSession(ctx, id)
	if err == nil {
		return sess, nil
	}
	var unknown *UnknownColumnError
	if errors.As(classifyColumnError("interview_sessions", err), &unknown) && isOptional("interview_sessions", unknown.Column) {
		s.caps.MarkUnwritable("interview_sessions", unknown.Column)
		return s.getSession(ctx, id)
	}
	return nil, err
}

func (s *Store) getSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var endTime sql.NullTime
	var modality, resume sql.NullString
	query := fmt.Sprintf(
		`SELECT id, applicant_id, start_time, end_time, status, resume_data, %s
		 FROM interview_sessions WHERE id = $1`,
		s.optionalSelect("interview_sessions", "interview_type"))
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&sess.ID, &sess.ApplicantID, &sess.StartTime, &endTime, &sess.Status, &resume, &modality)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		sess.EndTime = &endTime.Time
	}
	sess.ResumeData = resume.String
	sess.Modality = Modality(modality.String)
	return &sess, nil
}

// ListMessages returns a session's messages ordered by observation time.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	msgs, err := s.listMessages(ctx, sessionID)
	if err == nil {
		return msgs, nil
	}
	var unknown *UnknownColumnError
	if errors.As(classifyColumnError("interview_messages", err), &unknown) && isOptional("interview_messages", unknown.Column) {
		s.caps.MarkUnwritable("interview_messages", unknown.Column)
		return s.listMessages(ctx, sessionID)
	}
	return nil, err
}

func (s *Store) listMessages(ctx context.Context, sessionID string) ([]Message, error) {
	query := fmt.Sprintf(
		`SELECT id, session_id, role, content, timestamp, %s
		 FROM interview_messages WHERE session_id = $1 ORDER BY timestamp ASC`,
		s.optionalSelect("interview_messages", "message_type"))
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var mediaKind sql.NullString
		if err = rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Timestamp, &mediaKind); err != nil {
			return nil, err
		}
		m.MediaKind = mediaKind.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
