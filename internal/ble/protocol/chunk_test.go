package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxBytes = 20

func encodedLen(t *testing.T, s string) int {
	t.Helper()
	b, _, err := EncodeText("text", s)
	require.NoError(t, err)
	return len(b)
}

func TestSplitTextFitsInOne(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, SplitText("hello world", testMaxBytes))
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Empty(t, SplitText("", testMaxBytes))
}

func TestSplitTextSplitsAtWordBoundary(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	chunks := SplitText(text, testMaxBytes)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, c := range chunks {
		assert.LessOrEqual(t, encodedLen(t, c), testMaxBytes, "chunk %d", i)
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(c, " "), "chunk %d should end at a space: %q", i, c)
		}
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitTextForcedSplit(t *testing.T) {
	text := strings.Repeat("x", 45)
	chunks := SplitText(text, testMaxBytes)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 20)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitTextKeepsIconMarkersWhole(t *testing.T) {
	text := strings.Repeat("[icon:137]", 25)
	chunks := SplitText(text, testMaxBytes)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("[icon:137]", 20), chunks[0])
	assert.Equal(t, 20, encodedLen(t, chunks[0]))
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitTextCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("°", testMaxBytes)
	assert.Equal(t, []string{text}, SplitText(text, testMaxBytes))
}

func TestSplitTextDefaultLimit(t *testing.T) {
	chunks := SplitText(strings.Repeat("a", MaxTextLen+1), 0)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], MaxTextLen)
}
