//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("rowan"),
		tcpostgres.WithUsername("rowan"),
		tcpostgres.WithPassword("rowan"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(testLogger, database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.Migrate(db, "rowan"))

	return NewStore(database.NewDatabaseInstance(db, testLogger), testLogger)
}

func TestStore_Postgres(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	src := &models.Source{SourceType: models.SourceTypeNaturalization, FileName: "n.json", RecordData: database.NewJSONB(map[string]any{"name": "Franz"})}
	require.NoError(t, s.CreateSource(ctx, src))
	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Franz", got.RecordData.Data["name"])

	_, err = s.GetSource(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	t.Run("person versioning", func(t *testing.T) {
		p := &models.Person{FirstName: "Franz", LastName: "Mueller", BirthDate: models.ExactDate(1925, 3, 15), PhoneticKeys: []string{"MLR"}}
		require.NoError(t, s.CreatePerson(ctx, p))
		assert.Equal(t, 1, p.Version)

		stale := *p
		p.BirthPlace = "Munich"
		require.NoError(t, s.UpdatePerson(ctx, p))
		assert.Equal(t, 2, p.Version)

		stale.BirthPlace = "Berlin"
		assert.ErrorIs(t, s.UpdatePerson(ctx, &stale), store.ErrVersionConflict)

		stored, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Munich", stored.BirthPlace)
		require.NotNil(t, stored.BirthYear)
		assert.Equal(t, 1925, *stored.BirthYear)

		found, err := s.FindCandidates(ctx, models.CandidateQuery{PhoneticKeys: []string{"MLR"}, MinBirthYear: 1800, MaxBirthYear: 1801})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, p.ID, found[0].ID)
	})

	t.Run("relationships are canonical and unique", func(t *testing.T) {
		parent := &models.Person{FirstName: "Johann", LastName: "Mueller"}
		child := &models.Person{FirstName: "Anna", LastName: "Mueller"}
		require.NoError(t, s.CreatePerson(ctx, parent))
		require.NoError(t, s.CreatePerson(ctx, child))

		created, err := s.AddRelationship(ctx, &models.Relationship{PersonID: parent.ID, RelatedPersonID: child.ID, Type: models.RelationshipChild})
		require.NoError(t, err)
		assert.True(t, created)

		dup := &models.Relationship{PersonID: child.ID, RelatedPersonID: parent.ID, Type: models.RelationshipParent}
		created, err = s.AddRelationship(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.NotZero(t, dup.ID)

		rels, err := s.ListRelationships(ctx, parent.ID)
		require.NoError(t, err)
		assert.Len(t, rels, 1)
	})

	t.Run("match candidate transitions once", func(t *testing.T) {
		a := &models.Person{FirstName: "Karl", LastName: "Weber"}
		b := &models.Person{FirstName: "Karl", LastName: "Weber", IsProvisional: true}
		require.NoError(t, s.CreatePerson(ctx, a))
		require.NoError(t, s.CreatePerson(ctx, b))

		mc := &models.MatchCandidate{PersonID: b.ID, MatchedPersonID: a.ID, Score: 0.8}
		require.NoError(t, s.CreateMatchCandidate(ctx, mc))
		assert.Equal(t, models.MatchCandidateStatusPending, mc.Status)

		require.NoError(t, s.TransitionMatchCandidate(ctx, mc.ID, models.MatchCandidateStatusPending, models.MatchCandidateStatusRejected))
		err := s.TransitionMatchCandidate(ctx, mc.ID, models.MatchCandidateStatusPending, models.MatchCandidateStatusApproved)
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		stats, err := s.CountStats(ctx, 70)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.PendingReviews)
		assert.Equal(t, 1, stats.ProvisionalPersons)
	})

	t.Run("jobs", func(t *testing.T) {
		job := &models.ProcessingJob{JobType: models.JobTypeIngest, State: models.JobStatePending, SourceType: models.SourceTypeCensus, BatchID: "b1", TotalRecords: 3}
		require.NoError(t, s.CreateJob(ctx, job))

		now := time.Now().UTC()
		job.State = models.JobStateCompleted
		job.CompletedAt = &now
		job.Result.Data.PersonsCreated = 3
		require.NoError(t, s.UpdateJob(ctx, job))

		jobs, err := s.ListBatchJobs(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 3, jobs[0].Result.Data.PersonsCreated)
		assert.Equal(t, models.JobStateCompleted, jobs[0].State)
	})

	assert.NoError(t, s.Ping(ctx))
}
