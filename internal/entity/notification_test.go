package entity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadValidate(t *testing.T) {
	t.Run("rejects neither template nor text", func(t *testing.T) {
		err := Payload{}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("rejects both template and text", func(t *testing.T) {
		err := Payload{
			Template: &TemplatePayload{Name: "order_confirmation", Language: "en"},
			Text:     &TextPayload{Text: "hi"},
		}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("accepts template alone", func(t *testing.T) {
		err := Payload{Template: &TemplatePayload{Name: "order_confirmation", Language: "en"}}.Validate()
		require.NoError(t, err)
	})

	t.Run("rejects template with missing name", func(t *testing.T) {
		err := Payload{Template: &TemplatePayload{Language: "en"}}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("rejects template with wrong language length", func(t *testing.T) {
		err := Payload{Template: &TemplatePayload{Name: "x", Language: "eng"}}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("accepts text within bound", func(t *testing.T) {
		err := Payload{Text: &TextPayload{Text: "hello"}}.Validate()
		require.NoError(t, err)
	})

	t.Run("rejects empty text", func(t *testing.T) {
		err := Payload{Text: &TextPayload{Text: ""}}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("rejects text over 4096 characters", func(t *testing.T) {
		err := Payload{Text: &TextPayload{Text: strings.Repeat("a", 4097)}}.Validate()
		require.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("accepts text at exactly 4096 characters", func(t *testing.T) {
		err := Payload{Text: &TextPayload{Text: strings.Repeat("a", 4096)}}.Validate()
		require.NoError(t, err)
	})
}

func TestPriorityIsValid(t *testing.T) {
	assert.True(t, PriorityHigh.IsValid())
	assert.True(t, PriorityNormal.IsValid())
	assert.True(t, PriorityLow.IsValid())
	assert.False(t, Priority("urgent").IsValid())
	assert.False(t, Priority("").IsValid())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusRead.IsTerminal())
	assert.False(t, StatusSent.IsTerminal())
	assert.False(t, StatusDelivered.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusRateLimited.IsTerminal())
}

// TestAllowedPredecessorsShape checks the state machine's edges
// against spec.md §4.C7's diagram: queued is re-entered from scheduled
// and failed, sent and the callback states (delivered/read/failed) accept
// processing, and read additionally tolerates delivered and sent as
// predecessors.
func TestAllowedPredecessorsShape(t *testing.T) {
	require.Contains(t, AllowedPredecessors[StatusQueued], StatusScheduled)
	require.Contains(t, AllowedPredecessors[StatusQueued], StatusFailed)

	require.Contains(t, AllowedPredecessors[StatusSent], StatusProcessing)

	for _, target := range []Status{StatusDelivered, StatusRead, StatusFailed} {
		require.Contains(t, AllowedPredecessors[target], StatusProcessing, "target=%s", target)
	}

	// Out-of-order callback tolerance: read must accept delivered and
	// sent as predecessors since delivered/sent may not have landed yet.
	require.Contains(t, AllowedPredecessors[StatusRead], StatusDelivered)
	require.Contains(t, AllowedPredecessors[StatusRead], StatusSent)

	// scheduled has no listed predecessor: it is only reachable at
	// creation time.
	_, hasScheduled := AllowedPredecessors[StatusScheduled]
	assert.False(t, hasScheduled)
}

func TestWorkItemDedupAndGroupID(t *testing.T) {
	id := uuid.New()
	w := WorkItem{NotificationID: id, RecipientPhone: "+14155552671"}

	assert.Equal(t, id.String(), w.DedupID())
	assert.Equal(t, "+14155552671", w.GroupID())
}

func TestDefaultMaxAttempts(t *testing.T) {
	assert.Equal(t, 5, DefaultMaxAttempts)
}
