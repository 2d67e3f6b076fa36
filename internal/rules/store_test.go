// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package rules

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/ManuGH/streamops/internal/persistence/sqlite"
)

func newTestRuleStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "streamops.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))
	return NewStore(db)
}

func sampleRule(name string, priority int) *Rule {
	return &Rule{
		Name:     name,
		Priority: priority,
		Enabled:  true,
		Trigger:  Trigger{Type: "file_closed", PathGlob: "/recordings/*.mkv"},
		Conditions: []Condition{
			{Field: "codec", Op: "$eq", Value: "h264"},
		},
		Actions: []Action{
			{Type: "remux", Params: map[string]any{"container": "mov"}},
			{Type: "move", Params: map[string]any{"target": "/editing/{year}/"}},
		},
		QuietPeriodSec: 30,
	}
}

func TestUpsertAssignsIDAndRoundTrips(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	in := sampleRule("remux then move", 50)
	cpu := 70
	in.Guardrails.CPUPct = &cpu

	saved, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "remux then move", got.Name)
	assert.Equal(t, 50, got.Priority)
	assert.True(t, got.Enabled)
	assert.Equal(t, "file_closed", got.Trigger.Type)
	assert.Equal(t, "/recordings/*.mkv", got.Trigger.PathGlob)
	require.Len(t, got.Conditions, 1)
	assert.Equal(t, OpEq, got.Conditions[0].Op, "stored docs carry canonical op names")
	require.Len(t, got.Actions, 2)
	assert.Equal(t, "remux", got.Actions[0].Type)
	assert.Equal(t, "mov", got.Actions[0].Params["container"])
	require.NotNil(t, got.Guardrails.CPUPct)
	assert.Equal(t, 70, *got.Guardrails.CPUPct)
	assert.Equal(t, 30, got.QuietPeriodSec)
}

func TestUpsertPersistsFullDocumentShape(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	cpu, gpu := 65, 90
	pause := false
	in := &Rule{
		Name:     "camera card intake",
		Priority: 20,
		Enabled:  true,
		Trigger: Trigger{Any: []TriggerAlt{
			{Event: "file_closed", PathGlob: "/cards/*.mov"},
			{Event: "asset_moved"},
		}},
		// Values mirror their JSON decoding: numbers are float64, lists
		// are []any.
		Conditions: []Condition{
			{Field: "file.extension", Op: OpIn, Value: []any{".mov", ".mp4"}},
			{Field: "file.size", Op: OpGt, Value: float64(1024)},
		},
		Actions: []Action{
			{Type: "copy", Params: map[string]any{"target": "/backup/{year}/"}},
			{Type: "proxy", Params: map[string]any{"preset": "dnxhr_lb", "height": float64(720)}},
		},
		Guardrails:     guard.Overrides{CPUPct: &cpu, GPUPct: &gpu, PauseWhenRecording: &pause},
		QuietPeriodSec: 90,
	}

	saved, err := s.Upsert(ctx, in)
	require.NoError(t, err)

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)

	ignore := cmpopts.IgnoreFields(Rule{}, "ID", "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(in, got, ignore); diff != "" {
		t.Fatalf("rule changed across persistence (-want +got):\n%s", diff)
	}
}

func TestUpsertUpdateKeepsCreatedAt(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	in := sampleRule("v1", 10)
	in.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	saved, err := s.Upsert(ctx, in)
	require.NoError(t, err)

	saved.Name = "v2"
	saved.Priority = 99
	saved.Enabled = false
	updated, err := s.Upsert(ctx, saved)
	require.NoError(t, err)

	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, "v2", updated.Name)
	assert.Equal(t, 99, updated.Priority)
	assert.False(t, updated.Enabled)
	assert.Equal(t, in.CreatedAt, updated.CreatedAt)
	assert.True(t, !updated.UpdatedAt.Before(updated.CreatedAt))
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	in := sampleRule("broken", 0)
	in.Actions = nil
	_, err := s.Upsert(ctx, in)
	require.Error(t, err)
	assert.Equal(t, opserr.KindValidation, opserr.KindOf(err))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "invalid rules are not stored")
}

func TestDelete(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	saved, err := s.Upsert(ctx, sampleRule("gone soon", 0))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, saved.ID))

	_, err = s.Get(ctx, saved.ID)
	assert.Equal(t, opserr.KindNotFound, opserr.KindOf(err))

	err = s.Delete(ctx, saved.ID)
	assert.Equal(t, opserr.KindNotFound, opserr.KindOf(err))
}

func TestLoadEnabledOrder(t *testing.T) {
	s := newTestRuleStore(t)
	ctx := context.Background()

	older, err := s.Upsert(ctx, sampleRule("p10 older", 10))
	require.NoError(t, err)
	newer := sampleRule("p10 newer", 10)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	_, err = s.Upsert(ctx, newer)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, sampleRule("p100", 100))
	require.NoError(t, err)
	off := sampleRule("disabled", 999)
	off.Enabled = false
	_, err = s.Upsert(ctx, off)
	require.NoError(t, err)

	enabled, err := s.LoadEnabled(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(enabled))
	for _, r := range enabled {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"p100", "p10 older", "p10 newer"}, names)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "disabled", all[0].Name, "listing includes disabled rules")
}
