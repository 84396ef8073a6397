package models_test

import (
	"testing"
	"time"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKind_Behavior(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind         models.NodeKind
		dispatchable bool
		mode         models.Mode
	}{
		{models.KindActivity, true, models.ModeBlocking},
		{models.KindDecision, true, models.ModeBlocking},
		{models.KindBranch, true, models.ModeBlocking},
		{models.KindSubActivity, true, models.ModeBlocking},
		{models.KindSignal, false, models.ModeBlocking},
		{models.KindFlag, false, models.ModeBlocking},
		{models.KindTimer, false, models.ModeBlocking},
		{models.NodeKind("mystery"), true, models.ModeBlocking},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			behavior := tt.kind.Behavior()
			assert.Equal(t, tt.dispatchable, behavior.Dispatchable())
			assert.Equal(t, tt.mode, behavior.DefaultMode())
		})
	}
}

func TestParseNodeKind(t *testing.T) {
	t.Parallel()

	kind, err := models.ParseNodeKind("timer")
	require.NoError(t, err)
	assert.Equal(t, models.KindTimer, kind)

	_, err = models.ParseNodeKind("cron")
	assert.ErrorContains(t, err, "unknown node kind")
}

func TestValidStatuses(t *testing.T) {
	t.Parallel()

	assert.True(t, models.ValidServerStatus("processing_children"))
	assert.True(t, models.ValidServerStatus("deactivated"))
	assert.False(t, models.ValidServerStatus("processing"))

	assert.True(t, models.ValidClientStatus("processing"))
	assert.False(t, models.ValidClientStatus("sent_to_client"))
	assert.False(t, models.ValidClientStatus(""))

	assert.Len(t, models.ServerStatuses(), 10)
	assert.Len(t, models.ClientStatuses(), 6)
}

func TestNode_Accessors(t *testing.T) {
	t.Parallel()

	bare := &models.Node{ID: "n-1", WorkflowID: "wf-1", Mode: models.ModeNonBlocking}

	assert.Equal(t, models.KindActivity, bare.Kind())
	assert.Zero(t, bare.RetriesRemaining())
	assert.False(t, bare.Blocking())
	assert.Equal(t, models.Subject{Type: models.SubjectNode, ID: "n-1"}, models.SubjectOf(bare))
	assert.Equal(t, "wf-1", bare.WorkflowRef())

	detailed := &models.Node{
		Mode:                models.ModeBlocking,
		CurrentServerStatus: models.ServerStarted,
		CurrentClientStatus: models.ClientReady,
		Detail:              &models.NodeDetail{LegacyType: models.KindDecision, RetriesRemaining: 3},
	}

	assert.Equal(t, models.KindDecision, detailed.Kind())
	assert.Equal(t, 3, detailed.RetriesRemaining())
	assert.True(t, detailed.Blocking())
	assert.Equal(t, models.StatusPair{Server: models.ServerStarted, Client: models.ClientReady}, detailed.Statuses())
}

func TestNodeFilter_Matches(t *testing.T) {
	t.Parallel()

	node := &models.Node{CurrentServerStatus: models.ServerReady, CurrentClientStatus: models.ClientReady}

	tests := []struct {
		name    string
		filter  models.NodeFilter
		matches bool
	}{
		{"empty", models.NodeFilter{}, true},
		{"server match", models.NodeFilter{ServerStatus: models.ServerReady}, true},
		{"server mismatch", models.NodeFilter{ServerStatus: models.ServerComplete}, false},
		{"both match", models.NodeFilter{ServerStatus: models.ServerReady, ClientStatus: models.ClientReady}, true},
		{"client mismatch", models.NodeFilter{ClientStatus: models.ClientErrored}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.matches, tt.filter.Matches(node), tt.name)
	}
}

func TestSubjectKey_IgnoresKeyOrder(t *testing.T) {
	t.Parallel()

	a, err := models.SubjectKey(map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 0}})
	require.NoError(t, err)

	b, err := models.SubjectKey(map[string]any{"a": map[string]any{"x": 0, "y": 1}, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)

	workflow := &models.Workflow{ID: "wf-1", Subject: map[string]any{"id": 7}}

	key, err := workflow.SubjectKey()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, key)
	assert.Equal(t, models.SubjectWorkflow, workflow.TargetType())
	assert.Equal(t, "wf-1", workflow.WorkflowRef())
}

func TestWatchdog_ExpiresAt(t *testing.T) {
	t.Parallel()

	armed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	dog := &models.Watchdog{SubjectType: models.SubjectNode, SubjectID: "n-1", Duration: 15 * time.Minute, ArmedAt: armed}

	assert.Equal(t, armed.Add(15*time.Minute), dog.ExpiresAt())
	assert.Equal(t, models.Subject{Type: models.SubjectNode, ID: "n-1"}, dog.Subject())
}
