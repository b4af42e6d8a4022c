package capture

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/cadence/internal/entity"
)

func extract(t *testing.T, text string) *Extraction {
	t.Helper()
	ext, err := RuleExtractor{}.Extract(context.Background(), text, t0)
	require.NoError(t, err)
	return ext
}

func TestRuleExtractorReminder(t *testing.T) {
	ext := extract(t, "Remind me to call mom tomorrow at 3pm")
	assert.Equal(t, IntentReminder, ext.Intent)
	assert.Equal(t, "Call mom", ext.Action)
	require.NotNil(t, ext.Deadline)
	assert.Equal(t, day(3, 15, 0), *ext.Deadline)
	assert.Equal(t, 0.95, ext.Confidence)

	ext = extract(t, "remind me to water the plants")
	assert.Equal(t, IntentReminder, ext.Intent)
	assert.Nil(t, ext.Deadline)
	assert.Equal(t, 0.75, ext.Confidence)

	ext = extract(t, "Remind me to take my pills every day at 8am.")
	assert.Equal(t, "Take my pills", ext.Action)
	assert.Equal(t, entity.RecurDaily, ext.Recurrence)
	require.NotNil(t, ext.Deadline)
	assert.Equal(t, day(3, 8, 0), *ext.Deadline)
}

func TestRuleExtractorTask(t *testing.T) {
	ext := extract(t, "I need to pick up milk at the superstore")
	assert.Equal(t, IntentTask, ext.Intent)
	assert.Equal(t, "Pick up milk", ext.Action)
	assert.Equal(t, []string{"errands:Superstore"}, ext.ContextTags)
	assert.GreaterOrEqual(t, ext.Confidence, 0.9)

	ext = extract(t, "I need to order tiles for the bathroom project")
	assert.Equal(t, "Order tiles", ext.Action)
	assert.Equal(t, "bathroom", ext.Project)

	ext = extract(t, "for garden: buy seeds")
	assert.Equal(t, IntentNone, ext.Intent)

	ext = extract(t, "todo: for garden: buy seeds")
	assert.Equal(t, IntentTask, ext.Intent)
	assert.Equal(t, "garden", ext.Project)

	ext = extract(t, "I have to call the plumber asap")
	assert.Equal(t, "Call the plumber", ext.Action)
	assert.Equal(t, PriorityHigh, ext.Priority)

	ext = extract(t, "add batteries to my list")
	assert.Equal(t, IntentTask, ext.Intent)
	assert.Equal(t, "Batteries", ext.Action)
}

func TestRuleExtractorCommitment(t *testing.T) {
	ext := extract(t, "I promised Sam I'd send the deck by friday")
	assert.Equal(t, IntentCommitment, ext.Intent)
	assert.Equal(t, "Sam", ext.Person)
	assert.Equal(t, "Send the deck", ext.Action)
	require.NotNil(t, ext.Deadline)
	assert.Equal(t, day(6, 9, 0), *ext.Deadline)
}

func TestRuleExtractorCompletion(t *testing.T) {
	ext := extract(t, "I finished the quarterly report")
	assert.Equal(t, IntentCompletion, ext.Intent)
	assert.Equal(t, "The quarterly report", ext.Action)

	ext = extract(t, "mark taxes as done")
	assert.Equal(t, IntentCompletion, ext.Intent)
	assert.Equal(t, "Taxes", ext.Action)
	assert.Equal(t, 0.95, ext.Confidence)
}

func TestRuleExtractorNoIntent(t *testing.T) {
	ext := extract(t, "what a lovely day")
	assert.Equal(t, IntentNone, ext.Intent)
	assert.Less(t, ext.Confidence, 0.7)
}

func TestDecide(t *testing.T) {
	th := Thresholds{Direct: 0.9, Confirm: 0.7}
	tests := []struct {
		conf float64
		err  error
		want Policy
	}{
		{1, nil, PolicyDirect},
		{0.9, nil, PolicyDirect},
		{0.8999, nil, PolicyConfirm},
		{0.7, nil, PolicyConfirm},
		{0.6999, nil, PolicyTriage},
		{0, nil, PolicyTriage},
		{math.NaN(), nil, PolicyTriage},
		{0.99, context.DeadlineExceeded, PolicyArchiveRaw},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.conf, tt.err, th), "confidence %v err %v", tt.conf, tt.err)
	}
}
