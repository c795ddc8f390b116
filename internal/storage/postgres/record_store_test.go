package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

func testRun() (Run, []harvest.EmailRecord) {
	now := time.Unix(1700000000, 0).UTC()
	conf := 91
	run := Run{
		ID:         "run-1",
		StartedAt:  now,
		FinishedAt: now.Add(time.Minute),
		Candidates: 3,
		Progress:   harvest.Progress{Total: 3, Completed: 3, Fetched: 3, Emails: 2},
		Plan:       map[string]int{"verify_calls": 1},
	}
	records := []harvest.EmailRecord{
		{
			Email:        "info@example.com",
			FirstSource:  "https://example.com/contact",
			Sources:      []string{"https://example.com/contact"},
			Domain:       "example.com",
			MXValid:      true,
			Verification: &harvest.Verification{Result: harvest.VerifyDeliverable, Confidence: &conf},
			Quality:      harvest.TierHigh,
			FirstSeen:    now,
			Notes:        []string{"mailto"},
		},
		{
			Email:       "sales@example.com",
			FirstSource: "https://example.com/contact",
			Sources:     []string{"https://example.com/contact"},
			Domain:      "example.com",
			MXValid:     true,
			Quality:     harvest.TierMedium,
			FirstSeen:   now,
			Notes:       []string{"text"},
		},
	}
	return run, records
}

func TestSaveRunUpsertsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "", "")
	require.NoError(t, err)
	run, records := testRun()

	deliverable := "deliverable"
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(run.ID, run.StartedAt, run.FinishedAt, run.Candidates,
			[]byte(`{"total":3,"completed":3,"fetched":3,"skipped":0,"failed":0,"emails":2}`),
			[]byte(`{"verify_calls":1}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO harvested_emails").
		WithArgs("info@example.com", "https://example.com/contact", []string{"https://example.com/contact"},
			"example.com", true, &deliverable, records[0].Verification.Confidence, "High",
			records[0].FirstSeen, []string{"mailto"}, "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO harvested_emails").
		WithArgs("sales@example.com", "https://example.com/contact", []string{"https://example.com/contact"},
			"example.com", true, (*string)(nil), (*int)(nil), "Medium",
			records[1].FirstSeen, []string{"text"}, "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run, records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "emails", "runs")
	require.NoError(t, err)
	run, records := testRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO emails").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.SaveRun(context.Background(), run, records)
	require.ErrorContains(t, err, "upsert info@example.com: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "", "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore(context.Background(), Config{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStoreWithPool(mock, "bad-name;", "")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewRecordStoreWithPool(nil, "", "")
	require.Error(t, err)

	var nilStore *RecordStore
	require.Error(t, nilStore.SaveRun(context.Background(), Run{ID: "x"}, nil))
	nilStore.Close()
}
