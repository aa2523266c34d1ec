//go:build integration

package migrate

import (
	"context"
	"database/sql"
	"testing"

	"github.com/atviriduomenys/spinta-sync/internal/testutil"
	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
	"github.com/atviriduomenys/spinta-sync/pkg/manifest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type target struct {
	db      *sql.DB
	runner  *Runner
	planner *Planner
}

func newTarget(t *testing.T) *target {
	t.Helper()

	conn := testutil.NewPostgresContainer(t)

	return &target{
		db:      conn.DB,
		runner:  NewRunner(testLogger(), conn.DB, &Config{DSN: conn.DSN}, nil),
		planner: newPlanner(),
	}
}

// migrate brings the target to the schema of rows and returns the applied plan
func (tg *target) migrate(t *testing.T, rows ...manifest.Row) *Plan {
	t.Helper()

	ctx := context.Background()

	current, err := tg.runner.Inspect(ctx)
	require.NoError(t, err)

	plan, err := tg.planner.Plan(current, schema(t, tg.planner, rows...), nil)
	require.NoError(t, err)
	require.NoError(t, tg.runner.Apply(ctx, plan))

	return plan
}

func TestRunnerRemoveThenReAddKeepsData(t *testing.T) {
	tg := newTarget(t)

	both := []manifest.Row{
		{Model: "Test"},
		{Property: "a", Type: "string"},
		{Property: "b", Type: "string"},
	}
	onlyA := both[:2]

	tg.migrate(t, both...)

	_, err := tg.db.Exec(`INSERT INTO "example/Test" ("_id", "a", "b") VALUES ($1, 'x', 'kept')`, uuid.NewString())
	require.NoError(t, err)

	tg.migrate(t, onlyA...)

	var soft string
	require.NoError(t, tg.db.QueryRow(`SELECT "__b" FROM "example/Test"`).Scan(&soft))
	assert.Equal(t, "kept", soft)

	tg.migrate(t, both...)

	var (
		older string
		fresh sql.NullString
	)
	require.NoError(t, tg.db.QueryRow(`SELECT "____b", "b" FROM "example/Test"`).Scan(&older, &fresh))
	assert.Equal(t, "kept", older)
	assert.False(t, fresh.Valid)

	assert.True(t, tg.migrate(t, both...).Empty(), "introspected schema matches the manifest")
}

func TestRunnerRefLevelTransition(t *testing.T) {
	tg := newTarget(t)

	tg.migrate(t, referrer("")...)

	referenced := uuid.NewString()

	_, err := tg.db.Exec(`INSERT INTO "example/Referenced" ("_id", "code") VALUES ($1, 'LT')`, referenced)
	require.NoError(t, err)

	_, err = tg.db.Exec(`INSERT INTO "example/Referrer" ("_id", "someRef._id") VALUES ($1, $2)`, uuid.NewString(), referenced)
	require.NoError(t, err)

	tg.migrate(t, referrer("3")...)

	var code, old string
	require.NoError(t, tg.db.QueryRow(`SELECT "someRef.code", "__someRef._id" FROM "example/Referrer"`).Scan(&code, &old))
	assert.Equal(t, "LT", code)
	assert.Equal(t, referenced, old)

	tg.migrate(t, referrer("4")...)

	var id string
	require.NoError(t, tg.db.QueryRow(`SELECT "someRef._id" FROM "example/Referrer"`).Scan(&id))
	assert.Equal(t, referenced, id)
}

func TestRunnerRollsBackFailedPlan(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	tg.migrate(t, manifest.Row{Model: "Test"}, manifest.Row{Property: "a", Type: "string"})

	before, err := tg.runner.Inspect(ctx)
	require.NoError(t, err)

	err = tg.runner.Apply(ctx, &Plan{Steps: []Step{
		&AddColumn{Table: "example/Test", Column: &Column{Name: "b", Type: "TEXT", Nullable: true}},
		&Exec{Table: "example/Test", Statement: `UPDATE "example/Missing" SET "a" = 'x';`},
	}})
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidQuery, errcode.Of(err))

	after, err := tg.runner.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, columnNames(t, before, "example/Test"), columnNames(t, after, "example/Test"))
}
