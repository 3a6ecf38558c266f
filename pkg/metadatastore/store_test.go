package metadatastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

func newRecord(id string, atRisk bool, ingestedAt time.Time) *models.TriageRecord {
	rec := &models.TriageRecord{
		ID:                id,
		PatientName:       "patient-" + id,
		Allergies:         "none",
		ChronicConditions: "",
		ReasonForVisit:    "chest pain",
		HasInfarctRisk:    atRisk,
		IngestedAt:        ingestedAt,
	}
	rec.SetFeatures(models.FeatureVector{36.8, 72, 16, 98, 70, 172})
	if atRisk {
		rec.SetFeatures(models.FeatureVector{39.1, 132, 29, 85, 104, 165})
	}
	return rec
}

// onlyPrefix filters listings so shared databases do not disturb assertions
func onlyPrefix(recs []*models.TriageRecord, prefix string) []string {
	var ids []string
	for _, r := range recs {
		if strings.HasPrefix(r.ID, prefix) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// runRepositoryContract exercises behavior every backend must share
func runRepositoryContract(t *testing.T, repo TriageRepository) {
	ctx := context.Background()
	prefix := uuid.NewString()[:8] + "-"
	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("find missing", func(t *testing.T) {
		rec, ok, err := repo.FindByID(ctx, prefix+"absent")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, rec)
	})

	t.Run("insert and find", func(t *testing.T) {
		want := newRecord(prefix+"1", true, base)
		require.NoError(t, repo.Insert(ctx, want))

		got, ok, err := repo.FindByID(ctx, want.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.PatientName, got.PatientName)
		assert.Equal(t, want.Features(), got.Features())
		assert.True(t, got.HasInfarctRisk)
		assert.Equal(t, "chest pain", got.ReasonForVisit)
		assert.True(t, want.IngestedAt.Equal(got.IngestedAt))
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		err := repo.Insert(ctx, newRecord(prefix+"1", false, base))
		assert.Error(t, err)
	})

	t.Run("ids compare case-sensitively", func(t *testing.T) {
		// kept outside prefix so the listing assertions below are unaffected
		upper, lower := "cs-"+prefix+"Case-A", "cs-"+prefix+"case-a"
		require.NoError(t, repo.Insert(ctx, newRecord(upper, false, base)))
		require.NoError(t, repo.Insert(ctx, newRecord(lower, true, base)))

		got, ok, err := repo.FindByID(ctx, lower)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, lower, got.ID)
		assert.True(t, got.HasInfarctRisk)

		_, ok, err = repo.FindByID(ctx, "cs-"+prefix+"CASE-A")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		err := repo.Insert(ctx, &models.TriageRecord{})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("ordering and at-risk listing", func(t *testing.T) {
		require.NoError(t, repo.Insert(ctx, newRecord(prefix+"3", false, base.Add(2*time.Millisecond))))
		require.NoError(t, repo.Insert(ctx, newRecord(prefix+"2", true, base.Add(time.Millisecond))))

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{prefix + "1", prefix + "2", prefix + "3"}, onlyPrefix(all, prefix))

		atRisk, err := repo.ListAtRisk(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{prefix + "1", prefix + "2"}, onlyPrefix(atRisk, prefix))
	})

	t.Run("transaction sees its own inserts and commits", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx TriageTx) error {
			if err := tx.Insert(ctx, newRecord(prefix+"tx1", false, base)); err != nil {
				return err
			}
			_, ok, err := tx.FindByID(ctx, prefix+"tx1")
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)

		_, ok, err := repo.FindByID(ctx, prefix+"tx1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(tx TriageTx) error {
			require.NoError(t, tx.Insert(ctx, newRecord(prefix+"rb1", false, base)))
			require.NoError(t, tx.Insert(ctx, newRecord(prefix+"rb2", false, base)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		for _, id := range []string{prefix + "rb1", prefix + "rb2"} {
			_, ok, err := repo.FindByID(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok, id)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	repo, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "triage.db"))
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, "sqlite", repo.Dialect())
	runRepositoryContract(t, repo)
}

func TestSQLiteStore_EmptyListing(t *testing.T) {
	repo, err := NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	defer repo.Close()

	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.db")
	repo, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), newRecord("keep", false, time.Now())))
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer repo.Close()

	_, ok, err := repo.FindByID(context.Background(), "keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_SQLite(t *testing.T) {
	repo, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "t.db")})
	require.NoError(t, err)
	defer repo.Close()

	_, err = Open(context.Background(), config.StoreConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TRIAGE_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TRIAGE_TEST_MYSQL_DSN not set, skipping integration test")
	}
	repo, err := NewMySQLStore(context.Background(), dsn)
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, "mysql", repo.Dialect())
	runRepositoryContract(t, repo)
}

func TestMySQLStore_InvalidDSN(t *testing.T) {
	_, err := NewMySQLStore(context.Background(), "::not a dsn::")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TRIAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRIAGE_TEST_POSTGRES_DSN not set, skipping integration test")
	}
	repo, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	defer repo.Close()

	runRepositoryContract(t, repo)
}
