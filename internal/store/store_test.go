package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []any
}

// fakeExec scripts one error (or nil) per ExecContext call and records
// every statement it sees.
type fakeExec struct {
	calls []execCall
	errs  []error
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if len(f.errs) == 0 {
		return driver.RowsAffected(1), nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func newTestStore(fake *fakeExec) *Store {
	return &Store{exec: fake, caps: NewCapabilities()}
}

func undefinedColumn(column string) error {
	return &pgconn.PgError{
		Code:    pgUndefinedColumn,
		Message: `column "` + column + `" of relation "interview_sessions" does not exist`,
	}
}

func sampleSession() *Session {
	return &Session{
		ID:          "sess-1",
		ApplicantID: "app-1",
		Modality:    ModalityVideo,
		Status:      StatusActive,
		StartTime:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSaveSessionDegradesOnMissingColumn(t *testing.T) {
	fake := &fakeExec{errs: []error{undefinedColumn("interview_type"), nil}}
	s := newTestStore(fake)

	require.NoError(t, s.SaveSession(context.Background(), sampleSession()))
	require.Len(t, fake.calls, 2)

	require.Contains(t, fake.calls[0].query, "interview_type")
	require.NotContains(t, fake.calls[1].query, "interview_type")

	// Required fields survive the strip.
	require.Contains(t, fake.calls[1].args, "sess-1")
	require.Contains(t, fake.calls[1].args, "app-1")
	require.Contains(t, fake.calls[1].args, string(StatusActive))

	require.False(t, s.caps.IsWritable("interview_sessions", "interview_type"))
}

func TestSaveSessionSkipsKnownUnwritableColumn(t *testing.T) {
	fake := &fakeExec{errs: []error{undefinedColumn("interview_type"), nil}}
	s := newTestStore(fake)

	require.NoError(t, s.SaveSession(context.Background(), sampleSession()))

	// The doomed field is skipped on the first attempt of later writes.
	require.NoError(t, s.SaveSession(context.Background(), sampleSession()))
	require.Len(t, fake.calls, 3)
	require.NotContains(t, fake.calls[2].query, "interview_type")
}

func TestSaveSessionUnrelatedErrorSurfaces(t *testing.T) {
	dbErr := errors.New("connection refused")
	fake := &fakeExec{errs: []error{dbErr}}
	s := newTestStore(fake)

	err := s.SaveSession(context.Background(), sampleSession())
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, dbErr)

	// No retry for failures not attributable to an optional column.
	require.Len(t, fake.calls, 1)
	require.True(t, s.caps.IsWritable("interview_sessions", "interview_type"))
}

func TestSaveSessionRetryFailureSurfaces(t *testing.T) {
	retryErr := errors.New("deadlock detected")
	fake := &fakeExec{errs: []error{undefinedColumn("interview_type"), retryErr}}
	s := newTestStore(fake)

	err := s.SaveSession(context.Background(), sampleSession())
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	require.Len(t, fake.calls, 2)
}

func TestAppendMessageDegradesViaMessageScan(t *testing.T) {
	// Drivers without SQLSTATE codes fall back to scanning the message for
	// the table's known optional columns.
	fake := &fakeExec{errs: []error{errors.New(`ERROR: column "message_type" does not exist`), nil}}
	s := newTestStore(fake)

	msg := &Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      RoleUser,
		Content:   "Hello",
		MediaKind: "text",
		Timestamp: time.Now(),
	}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	require.Len(t, fake.calls, 2)
	require.NotContains(t, fake.calls[1].query, "message_type")
	require.False(t, s.caps.IsWritable("interview_messages", "message_type"))
}

func TestSaveReportOptionalModality(t *testing.T) {
	fake := &fakeExec{}
	s := newTestStore(fake)

	rep := &Report{
		ID:                "rep-1",
		SessionID:         "sess-1",
		ApplicantID:       "app-1",
		ReportContent:     "solid candidate",
		InterviewDuration: "12 minutes",
		TotalQuestions:    4,
		GeneratedAt:       time.Now(),
		Status:            "completed",
		Modality:          ModalityText,
	}
	require.NoError(t, s.SaveReport(context.Background(), rep))
	require.Len(t, fake.calls, 1)
	require.Contains(t, fake.calls[0].query, "interview_type")
}

func TestBuildInsertUpsert(t *testing.T) {
	q := buildInsert("interview_sessions", []string{"id", "status"}, "id")
	require.Equal(t,
		"INSERT INTO interview_sessions (id, status) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status",
		q)
}

func TestClassifyColumnErrorTyped(t *testing.T) {
	err := classifyColumnError("interview_sessions", undefinedColumn("interview_type"))
	var unknown *UnknownColumnError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "interview_sessions", unknown.Table)
	require.Equal(t, "interview_type", unknown.Column)
}

func TestClassifyColumnErrorPassThrough(t *testing.T) {
	orig := errors.New("syntax error at or near SELECT")
	require.Same(t, orig, classifyColumnError("interview_sessions", orig))
}

func TestCapabilitiesConcurrent(t *testing.T) {
	caps := NewCapabilities()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			caps.MarkUnwritable("interview_messages", "message_type")
		}
	}()
	for range 100 {
		caps.IsWritable("interview_messages", "message_type")
	}
	<-done
	require.False(t, caps.IsWritable("interview_messages", "message_type"))
	require.True(t, caps.IsWritable("interview_messages", "content"))
}

func TestOptionalColumnsMatchSchema(t *testing.T) {
	for table, cols := range optionalColumns {
		require.True(t, strings.HasPrefix(table, "interview_"))
		require.NotEmpty(t, cols)
	}
}
