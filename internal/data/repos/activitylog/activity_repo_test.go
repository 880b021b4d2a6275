package activitylog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/data/repos/testutil"
	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

func countWhere(t *testing.T, tx *gorm.DB, table, column string, value interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, tx.Table(table).Where(column+" = ?", value).Count(&n).Error)
	return n
}

func personLinks(t *testing.T, tx *gorm.DB, ident string) int64 {
	t.Helper()
	var n int64
	err := tx.Raw(`
SELECT count(*) FROM context_link l
JOIN activity a ON a.id = l.activity_id
JOIN person p ON p.id = a.person_id
WHERE p.ident = ?`, ident).Scan(&n).Error
	require.NoError(t, err)
	return n
}

func personActivities(t *testing.T, tx *gorm.DB, ident string) int64 {
	t.Helper()
	var n int64
	err := tx.Raw(`SELECT count(*) FROM activity a JOIN person p ON p.id = a.person_id WHERE p.ident = ?`, ident).Scan(&n).Error
	require.NoError(t, err)
	return n
}

func TestActivityRepoResubmissionUnderNewEvent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	activities := NewActivityRepo(db, log, Options{})
	events := NewSourceEventRepo(db, log, Options{})

	fnr := testutil.Unique("12345678910")
	msg := testutil.Unique("inntekt avvik")
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	act := testutil.NewActivity(types.LevelVarsel, msg, ts, map[string]map[string]string{
		"Person": {"fødselsnummer": fnr},
	})

	e1, err := events.Save(dbc, fnr, uuid.New(), []byte(`{"n":1}`), ts)
	require.NoError(t, err)
	res, err := activities.Save(dbc, testutil.BatchOf(act), &e1, fnr)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 1)
	assert.Equal(t, 0, res.Absorbed)
	assert.Equal(t, 1, res.Links)

	assert.Equal(t, int64(1), personActivities(t, tx, fnr))
	assert.Equal(t, int64(1), countWhere(t, tx, "context_value", "value", fnr))
	assert.Equal(t, int64(1), personLinks(t, tx, fnr))

	e2, err := events.Save(dbc, fnr, uuid.New(), []byte(`{"n":2}`), ts)
	require.NoError(t, err)
	require.NotEqual(t, e1, e2)

	res, err = activities.Save(dbc, testutil.BatchOf(act), &e2, fnr)
	require.NoError(t, err)
	assert.Empty(t, res.Inserted)
	assert.Equal(t, 1, res.Absorbed)
	assert.Equal(t, 0, res.Links)

	assert.Equal(t, int64(1), personActivities(t, tx, fnr))
	assert.Equal(t, int64(1), countWhere(t, tx, "context_value", "value", fnr))
	assert.Equal(t, int64(1), personLinks(t, tx, fnr))
	assert.Equal(t, int64(1), countWhere(t, tx, "message", "text", msg))

	// A second activity referencing the same person context reuses the value row.
	other := testutil.NewActivity(types.LevelInfo, msg, ts, map[string]map[string]string{
		"Person": {"fødselsnummer": fnr},
	})
	_, err = activities.Save(dbc, testutil.BatchOf(other), &e2, fnr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countWhere(t, tx, "context_value", "value", fnr))
	assert.Equal(t, int64(2), personLinks(t, tx, fnr))
}

func TestActivityRepoSharedContextAcrossMessages(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewActivityRepo(db, testutil.Logger(t), Options{})

	ident := testutil.Ident()
	orgnr := testutil.Unique("987654321")
	ts := time.Now().UTC().Truncate(time.Microsecond)
	ctxs := map[string]map[string]string{"Arbeidsgiver": {"organisasjonsnummer": orgnr}}
	a := testutil.NewActivity(types.LevelInfo, testutil.Unique("first"), ts, ctxs)
	b := testutil.NewActivity(types.LevelInfo, testutil.Unique("second"), ts, ctxs)

	res, err := repo.Save(dbc, testutil.BatchOf(a, b), nil, ident)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 2)

	assert.Equal(t, int64(1), countWhere(t, tx, "message", "text", a.Message))
	assert.Equal(t, int64(1), countWhere(t, tx, "message", "text", b.Message))
	assert.Equal(t, int64(2), personActivities(t, tx, ident))
	assert.Equal(t, int64(1), countWhere(t, tx, "context_value", "value", orgnr))
	assert.Equal(t, int64(2), personLinks(t, tx, ident))
}

func TestActivityRepoChunksLargeBatches(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewActivityRepo(db, testutil.Logger(t), Options{RowsPerStatement: 2})

	ident := testutil.Ident()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	var acts []activity.Activity
	for i := 0; i < 7; i++ {
		acts = append(acts, testutil.NewActivity(types.LevelInfo, testutil.Unique(fmt.Sprintf("melding %d", i)), base.Add(time.Duration(i)*time.Minute), map[string]map[string]string{
			"Person":     {"fødselsnummer": ident},
			"Sykmelding": {"id": testutil.Unique("sm"), "periode": fmt.Sprintf("p%d", i%3)},
		}))
	}

	res, err := repo.Save(dbc, testutil.BatchOf(acts...), nil, ident)
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 7)
	assert.Equal(t, 21, res.Links)

	stored, err := NewReader(db).ListByPerson(dbc, ident, 0)
	require.NoError(t, err)
	require.Len(t, stored, 7)
	for i, s := range stored {
		assert.Equal(t, acts[i].ID, s.ID)
		assert.Equal(t, acts[i].Message, s.Message)
		assert.Equal(t, ident, s.PersonIdent)
		require.Len(t, s.Contexts, 2)
		assert.Equal(t, "Person", s.Contexts[0].Type)
		assert.Equal(t, "Sykmelding", s.Contexts[1].Type)
		assert.Len(t, s.Contexts[1].Details, 2)
	}
}

func TestReaderChunksContextLookup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewActivityRepo(db, testutil.Logger(t), Options{})

	ident := testutil.Ident()
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	var acts []activity.Activity
	for i := 0; i < 5; i++ {
		acts = append(acts, testutil.NewActivity(types.LevelInfo, testutil.Unique(fmt.Sprintf("varsel %d", i)), base.Add(time.Duration(i)*time.Minute), map[string]map[string]string{
			"Person":   {"fødselsnummer": ident},
			"Inntekt":  {"orgnr": testutil.Unique("org")},
			"Vedtaksp": {"periode": fmt.Sprintf("p%d", i)},
		}))
	}
	_, err := repo.Save(dbc, testutil.BatchOf(acts...), nil, ident)
	require.NoError(t, err)

	r := NewReader(db).(*reader)
	r.idsPerQuery = 2
	stored, err := r.ListByPerson(dbc, ident, 0)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for i, s := range stored {
		assert.Equal(t, acts[i].ID, s.ID)
		require.Len(t, s.Contexts, 3, "activity %d", i)
		assert.Equal(t, "Inntekt", s.Contexts[0].Type)
		assert.Equal(t, "Person", s.Contexts[1].Type)
		assert.Equal(t, "Vedtaksp", s.Contexts[2].Type)
		assert.Equal(t, fmt.Sprintf("p%d", i), s.Contexts[2].Details[0].Value)
	}
}

func TestActivityRepoEmptyBatchStillInternsPerson(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewActivityRepo(db, testutil.Logger(t), Options{})

	ident := testutil.Ident()
	res, err := repo.Save(dbc, activity.NewBatch(), nil, ident)
	require.NoError(t, err)
	assert.Positive(t, res.PersonID)
	assert.Empty(t, res.Inserted)

	id, err := repo.InternPerson(dbc, ident)
	require.NoError(t, err)
	assert.Equal(t, res.PersonID, id)

	_, err = repo.Save(dbc, activity.NewBatch(), nil, "  ")
	require.Error(t, err)
}

func TestActivityRepoConcurrentWritersInternOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := NewActivityRepo(db, log, Options{})

	shared := testutil.Unique("delt melding")
	sharedValue := testutil.Unique("delt verdi")
	const writers = 8

	idents := make([]string, writers)
	for i := range idents {
		idents[i] = testutil.Ident()
		testutil.CleanupPerson(t, db, idents[i])
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		ident := idents[i]
		g.Go(func() error {
			batch := activity.NewBatch()
			for j := 0; j < 5; j++ {
				batch.Add(testutil.NewActivity(types.LevelInfo, shared, time.Now().UTC(), map[string]map[string]string{
					"Felles": {"nøkkel": sharedValue},
				}))
			}
			_, err := repo.Save(dbctx.Context{Ctx: ctx}, batch, nil, ident)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), countWhere(t, db, "message", "text", shared))
	assert.Equal(t, int64(1), countWhere(t, db, "context_value", "value", sharedValue))
	for _, ident := range idents {
		assert.Equal(t, int64(5), personActivities(t, db, ident))
		assert.Equal(t, int64(5), personLinks(t, db, ident))
	}
}
