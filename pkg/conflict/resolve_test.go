package conflict

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/testutil"
)

type engineFixture struct {
	engine *Engine
	store  persistence.Persistence
	bus    *testutil.CapturingBus
	sink   *testutil.CapturingSink
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := testutil.NewCapturingBus()
	sink := testutil.NewCapturingSink()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return &engineFixture{
		engine: NewEngine(store, bus, sink, logger),
		store:  store,
		bus:    bus,
		sink:   sink,
	}
}

func (f *engineFixture) saveConflict(t *testing.T, conflict *models.Conflict) {
	t.Helper()
	require.NoError(t, f.store.ConflictRepository().SaveConflict(context.Background(), conflict))
}

func (f *engineFixture) saveArtifact(t *testing.T, artifact *models.Artifact) {
	t.Helper()
	require.NoError(t, f.store.ArtifactRepository().SaveArtifact(context.Background(), artifact))
}

func strategyPtr(s models.ResolutionStrategy) *models.ResolutionStrategy {
	return &s
}

func TestRecommendedStrategy(t *testing.T) {
	tests := []struct {
		name     string
		conflict *models.Conflict
		want     models.ResolutionStrategy
	}{
		{
			name:     "critical always escalates",
			conflict: testutil.CreateTestConflict("p", testutil.WithSeverity(models.SeverityCritical)),
			want:     models.StrategyEscalation,
		},
		{
			name:     "two-party contradiction merges",
			conflict: testutil.CreateTestConflict("p"),
			want:     models.StrategyAutomaticMerge,
		},
		{
			name: "many-party contradiction needs an override",
			conflict: testutil.CreateTestConflict("p", func(c *models.Conflict) {
				c.Participants = append(c.Participants, models.ConflictParticipant{AgentType: "tester"})
			}),
			want: models.StrategyManualOverride,
		},
		{
			name:     "requirement mismatch compromises",
			conflict: testutil.CreateTestConflict("p", testutil.WithConflictType(models.ConflictRequirementMismatch)),
			want:     models.StrategyCompromise,
		},
		{
			name:     "resource contention ranks by priority",
			conflict: testutil.CreateTestConflict("p", testutil.WithConflictType(models.ConflictResourceContention)),
			want:     models.StrategyPriorityBased,
		},
		{
			name:     "dependency violation rolls back",
			conflict: testutil.CreateTestConflict("p", testutil.WithConflictType(models.ConflictDependencyViolation)),
			want:     models.StrategyRollback,
		},
		{
			name:     "design inconsistency needs an override",
			conflict: testutil.CreateTestConflict("p", testutil.WithConflictType(models.ConflictDesignInconsistency)),
			want:     models.StrategyManualOverride,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecommendedStrategy(tt.conflict))
		})
	}
}

func TestEngine_Resolve_AutomaticMerge(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	primary := testutil.CreateTestArtifact("project-1", "architect", models.ArtifactTypeImplementation, "use the gateway")
	secondary := testutil.CreateTestArtifact("project-1", "developer", models.ArtifactTypeImplementation, "skip the gateway")
	f.saveArtifact(t, primary)
	f.saveArtifact(t, secondary)

	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Evidence.ArtifactIDs = []string{primary.ID, secondary.ID}
	})
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.StrategyAutomaticMerge, result.Strategy)
	require.Len(t, result.ArtifactIDs, 1)
	assert.False(t, result.EscalationRequired)

	stored, err := f.store.ConflictRepository().GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, stored.Status)
	require.NotNil(t, stored.FinalResolution)
	assert.Equal(t, models.StrategyAutomaticMerge, stored.FinalResolution.Strategy)
	assert.Equal(t, "merged around architect's output", stored.FinalResolution.Summary)
	require.Len(t, stored.ResolutionAttempts, 1)
	assert.True(t, stored.ResolutionAttempts[0].Success)

	merged, err := f.store.ArtifactRepository().GetArtifactsByIDs(ctx, result.ArtifactIDs)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "conflict-engine", merged[0].SourceAgent)
	assert.Contains(t, merged[0].Content, "use the gateway")
	assert.Contains(t, merged[0].Content, "From developer:")

	assert.Contains(t, f.bus.PublishedTypes(), events.ConflictResolvedEvent)
	assert.Contains(t, f.sink.Actions(), "conflict.resolution_attempted")
}

func TestEngine_Resolve_FailedAttemptMovesUnderReview(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1",
		testutil.WithConflictType(models.ConflictDesignInconsistency))
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.StrategyManualOverride, result.Strategy)
	assert.Equal(t, "manual decision required", result.Reason)
	assert.False(t, result.EscalationRequired)

	stored, err := f.store.ConflictRepository().GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictUnderReview, stored.Status)
	require.Len(t, stored.ResolutionAttempts, 1)
	assert.False(t, stored.ResolutionAttempts[0].Success)
}

func TestEngine_Resolve_CriticalEscalates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1", testutil.WithSeverity(models.SeverityCritical))
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.StrategyEscalation, result.Strategy)
	assert.Equal(t, "requires human adjudication", result.Reason)
	assert.True(t, result.EscalationRequired)

	stored, err := f.store.ConflictRepository().GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictEscalated, stored.Status)
}

func TestEngine_Resolve_HighSeverityEscalatesOnSecondFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1",
		testutil.WithSeverity(models.SeverityHigh),
		func(c *models.Conflict) {
			c.Status = models.ConflictUnderReview
			c.ResolutionAttempts = []models.ResolutionAttempt{{
				Strategy:    models.StrategyManualOverride,
				Success:     false,
				Reason:      "manual decision required",
				AttemptedAt: time.Now().UTC().Add(-time.Hour),
			}}
		})
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, strategyPtr(models.StrategyManualOverride))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.EscalationRequired)

	stored, err := f.store.ConflictRepository().GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictEscalated, stored.Status)
	assert.Equal(t, 2, stored.FailedAttempts())
}

func TestEngine_Resolve_PreferredStrategyWins(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	a := testutil.CreateTestArtifact("project-1", "architect", models.ArtifactTypeSpecification, "spec a")
	b := testutil.CreateTestArtifact("project-1", "developer", models.ArtifactTypeSpecification, "spec b")
	f.saveArtifact(t, a)
	f.saveArtifact(t, b)

	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Evidence.ArtifactIDs = []string{a.ID, b.ID}
	})
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, strategyPtr(models.StrategyCompromise))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.StrategyCompromise, result.Strategy)

	combined, err := f.store.ArtifactRepository().GetArtifactsByIDs(ctx, result.ArtifactIDs)
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Contains(t, combined[0].Content, "From architect:\nspec a")
	assert.Contains(t, combined[0].Content, "From developer:\nspec b")
}

func TestEngine_Resolve_SplitWorkEmitsOneArtifactPerParticipant(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1")
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, strategyPtr(models.StrategySplitWork))
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.ArtifactIDs, 2)

	artifacts, err := f.store.ArtifactRepository().GetArtifactsByIDs(ctx, result.ArtifactIDs)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Contains(t, artifacts[0].Content, "Assigned to architect (primary)")
	assert.Contains(t, artifacts[1].Content, "Assigned to developer (secondary)")
}

func TestEngine_Resolve_MergeWithoutEvidenceFails(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1")
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "evidence artifacts unavailable", result.Reason)
}

func TestEngine_Resolve_MergeWithoutParticipantsFails(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	artifact := testutil.CreateTestArtifact("project-1", "architect", models.ArtifactTypeImplementation, "use the gateway")
	f.saveArtifact(t, artifact)

	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Participants = nil
		c.Evidence.ArtifactIDs = []string{artifact.ID}
	})
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, strategyPtr(models.StrategyAutomaticMerge))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "no participants to merge around", result.Reason)
}

func TestEngine_Resolve_OldDetectionDoesNotEscalateOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	// Detected long ago, but nobody has reviewed it yet. The staleness clock
	// starts with the first attempt, not at detection.
	conflict := testutil.CreateTestConflict("project-1",
		testutil.WithConflictType(models.ConflictDesignInconsistency),
		func(c *models.Conflict) {
			c.DetectedAt = time.Now().UTC().Add(-48 * time.Hour)
		})
	f.saveConflict(t, conflict)

	result, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.EscalationRequired)

	stored, err := f.store.ConflictRepository().GetConflict(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictUnderReview, stored.Status)
	require.NotNil(t, stored.ReviewStartedAt)
	assert.WithinDuration(t, time.Now().UTC(), *stored.ReviewStartedAt, time.Minute)
}

func TestEngine_Resolve_TerminalConflictRejected(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Status = models.ConflictResolved
	})
	f.saveConflict(t, conflict)

	_, err := f.engine.Resolve(ctx, conflict.ID, nil)
	require.ErrorIs(t, err, ErrConflictTerminal)
}

func TestEngine_Resolve_UnknownConflict(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Resolve(context.Background(), "does-not-exist", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))
}

func TestPriorityBased_RanksByConfidence(t *testing.T) {
	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Participants = []models.ConflictParticipant{
			{AgentType: "developer", Confidence: 0.4},
			{AgentType: "architect", Confidence: 0.8},
			{AgentType: "tester", Confidence: 0.6},
		}
	})

	outcome := priorityBased(conflict)

	assert.True(t, outcome.success)
	assert.Equal(t, "priority order: architect > tester > developer", outcome.summary)
}

func TestPriorityBased_NoParticipants(t *testing.T) {
	conflict := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Participants = nil
	})

	outcome := priorityBased(conflict)

	assert.False(t, outcome.success)
	assert.Equal(t, "no participants to rank", outcome.reason)
}

func TestIsEscalationRequired(t *testing.T) {
	now := time.Now().UTC()

	failed := models.ResolutionAttempt{Strategy: models.StrategyManualOverride, AttemptedAt: now}

	tests := []struct {
		name     string
		conflict *models.Conflict
		want     bool
	}{
		{
			name:     "critical severity",
			conflict: testutil.CreateTestConflict("p", testutil.WithSeverity(models.SeverityCritical)),
			want:     true,
		},
		{
			name: "high severity with two failed attempts",
			conflict: testutil.CreateTestConflict("p",
				testutil.WithSeverity(models.SeverityHigh),
				func(c *models.Conflict) {
					c.ResolutionAttempts = []models.ResolutionAttempt{failed, failed}
				}),
			want: true,
		},
		{
			name: "high severity with one failed attempt",
			conflict: testutil.CreateTestConflict("p",
				testutil.WithSeverity(models.SeverityHigh),
				func(c *models.Conflict) {
					c.ResolutionAttempts = []models.ResolutionAttempt{failed}
				}),
			want: false,
		},
		{
			name: "complexity above threshold",
			conflict: testutil.CreateTestConflict("p", func(c *models.Conflict) {
				c.Participants = make([]models.ConflictParticipant, 5)
				c.Evidence.ArtifactIDs = make([]string, 8)
				c.ResolutionAttempts = []models.ResolutionAttempt{failed}
			}),
			want: true,
		},
		{
			name: "stale under review",
			conflict: testutil.CreateTestConflict("p", func(c *models.Conflict) {
				c.Status = models.ConflictUnderReview
				c.DetectedAt = now.Add(-26 * time.Hour)
				reviewStart := now.Add(-25 * time.Hour)
				c.ReviewStartedAt = &reviewStart
			}),
			want: true,
		},
		{
			name: "recent review of an old detection",
			conflict: testutil.CreateTestConflict("p", func(c *models.Conflict) {
				c.Status = models.ConflictUnderReview
				c.DetectedAt = now.Add(-48 * time.Hour)
				reviewStart := now.Add(-time.Hour)
				c.ReviewStartedAt = &reviewStart
			}),
			want: false,
		},
		{
			name: "stale under review without a review timestamp",
			conflict: testutil.CreateTestConflict("p", func(c *models.Conflict) {
				c.Status = models.ConflictUnderReview
				c.DetectedAt = now.Add(-25 * time.Hour)
			}),
			want: true,
		},
		{
			name:     "fresh medium conflict",
			conflict: testutil.CreateTestConflict("p"),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEscalationRequired(tt.conflict, now))
		})
	}
}
