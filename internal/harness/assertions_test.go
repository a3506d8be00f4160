package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddTrace(TraceEvent{Kind: "opened"})
	r.AddTrace(TraceEvent{Kind: "video_changed", VideoID: "p0"})
	r.AddTrace(TraceEvent{Kind: "playback_resumed", VideoID: "p0"})
	r.AddTrace(TraceEvent{Kind: "video_changed", Thread: 1, VideoID: "p1"})
	return r.Trace
}

func TestResult_AddTraceNumbersEvents(t *testing.T) {
	trace := sampleTrace()
	for i, ev := range trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "video_changed"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "video_changed", Video: "p1"}))

	err := assertTraceContains(trace, Assertion{Event: "qualified", Video: "p0"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "qualified for p0", ae.Expected)
	assert.Contains(t, err.Error(), "Full trace:")
	assert.Contains(t, err.Error(), "[4] video_changed 1/0 p1")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"opened", "video_changed", "playback_resumed"}}))

	err := assertTraceOrder(trace, Assertion{Events: []string{"playback_resumed", "video_changed"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "playback_resumed (pos 3) should be before video_changed (pos 2)")

	err = assertTraceOrder(trace, Assertion{Events: []string{"opened", "end_of_feed"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: end_of_feed")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "video_changed", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "video_changed", Video: "p0", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "qualified", Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: "video_changed", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	state := map[string]any{"thread": 2, "video": "c2a", "playing": true}

	assert.NoError(t, assertFinalState(state, Assertion{Expect: map[string]any{"thread": 2, "playing": true}}))

	err := assertFinalState(state, Assertion{Expect: map[string]any{"thread": 1, "missing": 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing: unknown field")
	assert.Contains(t, err.Error(), "thread: expected 1, got 2")
}

func TestEvaluateAssertions(t *testing.T) {
	r := NewResult()
	r.Trace = sampleTrace()
	r.State = map[string]any{"thread": 1}

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceContains, Event: "opened"},
		{Type: AssertTraceCount, Event: "opened", Count: 2},
		{Type: AssertFinalState, Expect: map[string]any{"thread": 1}},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1:")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}
