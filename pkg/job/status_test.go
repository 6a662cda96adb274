package job

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusQueued, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

// Terminal states admit no outgoing edge, whatever the target.
func TestTerminalStatesAreAbsorbing(t *testing.T) {
	all := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

// Walk random transition sequences and check the machine never leaves a
// terminal state and never reaches a terminal state except through
// processing or a queued cancellation.
func TestRandomTransitionWalks(t *testing.T) {
	all := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	rng := rand.New(rand.NewSource(1))

	for walk := 0; walk < 200; walk++ {
		cur := StatusQueued
		for step := 0; step < 10; step++ {
			next := all[rng.Intn(len(all))]
			if !cur.CanTransitionTo(next) {
				continue
			}
			require.False(t, cur.IsTerminal(), "left terminal state %s", cur)
			if next.IsTerminal() && next != StatusCancelled {
				require.Equal(t, StatusProcessing, cur,
					"%s reached from %s", next, cur)
			}
			cur = next
		}
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, st)

	_, err = ParseStatus("paused")
	assert.Error(t, err)
}

func TestPriorityWireFormat(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Priority
	}{
		{"low", PriorityLow},
		{"normal", PriorityNormal},
		{"", PriorityNormal},
		{"high", PriorityHigh},
	} {
		got, err := ParsePriority(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)

	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
}

func TestConvertOptionsValidate(t *testing.T) {
	opts := ConvertOptions{}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 300, opts.DPI)

	bad := ConvertOptions{DPI: 9999}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
