package agentcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPartialJSONStringFieldHandlesTruncatedBuffer(t *testing.T) {
	raw, complete, ok := extractPartialJSONStringField(`{"message":"hello wor`, "message")
	require.True(t, ok)
	require.False(t, complete)
	require.Equal(t, "hello wor", raw)
}

func TestExtractPartialJSONStringFieldHandlesCompleteValue(t *testing.T) {
	raw, complete, ok := extractPartialJSONStringField(`{"message":"hello"}`, "message")
	require.True(t, ok)
	require.True(t, complete)
	require.Equal(t, "hello", raw)
}

func TestExtractPartialJSONStringArrayFieldCollectsFinishedElements(t *testing.T) {
	values, complete, ok := extractPartialJSONStringArrayField(`{"reasoning":["first","second","thi`, "reasoning")
	require.True(t, ok)
	require.False(t, complete)
	require.Equal(t, []string{"first", "second"}, values)
}

func TestDecodePartialJSONStringHandlesTruncatedUnicodeEscape(t *testing.T) {
	// A \uXXXX escape cut off mid-sequence must not panic and should stop
	// decoding at the last complete character.
	require.Equal(t, "ab", decodePartialJSONString(`ab\u00`))
}

func TestStreamAccumulatorEmitsOnlyIncrementalSuffix(t *testing.T) {
	var deltas []string
	acc := NewStreamAccumulator(func(s string) { deltas = append(deltas, s) })

	acc.Feed(`{"message":"Hel`)
	acc.Feed(`{"message":"Hello wo`)
	acc.Feed(`{"message":"Hello world"}`)

	require.Equal(t, []string{"Hel", "lo wo", "rld"}, deltas)
}

func TestStreamAccumulatorReconstructsFullMessageFromConcatenatedDeltas(t *testing.T) {
	var deltas []string
	acc := NewStreamAccumulator(func(s string) { deltas = append(deltas, s) })

	fragments := []string{
		`{"message":"T`,
		`{"message":"The quick`,
		`{"message":"The quick brown fox"}`,
	}
	for _, f := range fragments {
		acc.Feed(f)
	}

	var rebuilt string
	for _, d := range deltas {
		rebuilt += d
	}
	require.Equal(t, "The quick brown fox", rebuilt)
}

func TestStreamAccumulatorEmitsNewReasoningEntriesOnly(t *testing.T) {
	var deltas []string
	acc := NewStreamAccumulator(func(s string) { deltas = append(deltas, s) })

	acc.Feed(`{"reasoning":["step one"]}`)
	acc.Feed(`{"reasoning":["step one","step two"]}`)

	require.Equal(t, []string{"\nstep one", "\nstep two"}, deltas)
}
