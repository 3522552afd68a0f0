package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaletteIndices(t *testing.T) {
	require.Len(t, palette, 25)
	for i, c := range palette {
		assert.Equal(t, i, c.palette, c.name)
		got, err := NamedColor(c.name)
		require.NoError(t, err)
		idx, ok := got.PaletteIndex()
		assert.True(t, ok)
		assert.Equal(t, i, idx)
	}
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in        string
		want      RGB
		inPalette bool
	}{
		{"red", RGB{255, 0, 0}, true},
		{"Royal_Blue", RGB{65, 105, 225}, true},
		{"orange", RGB{255, 165, 0}, false},
		{"#FF8800", RGB{255, 136, 0}, false},
		{"ff8800", RGB{255, 136, 0}, false},
		{"10, 20, 30", RGB{10, 20, 30}, false},
		{"0,0,0", RGB{0, 0, 0}, false},
		{"255,255,255", RGB{255, 255, 255}, false},
	}
	for _, c := range cases {
		got, err := ParseColor(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got.RGB, c.in)
		_, ok := got.PaletteIndex()
		assert.Equal(t, c.inPalette, ok, c.in)
	}
}

func TestParseColorErrors(t *testing.T) {
	for _, in := range []string{"256,0,0", "0,-1,0", "0,0,999"} {
		_, err := ParseColor(in)
		assert.ErrorIs(t, err, ErrColorOutOfRange, in)
		assert.ErrorIs(t, err, ErrValidation, in)
	}
	for _, in := range []string{"", "chartreuse-ish", "#GG0000", "#fff", "1,2", "a,b,c"} {
		_, err := ParseColor(in)
		assert.ErrorIs(t, err, ErrUnknownEnumValue, in)
	}
}

func TestColorString(t *testing.T) {
	assert.Equal(t, "white", DefaultNoticeColor.String())
	c, err := ColorFromRGB(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "#010203", c.String())
}

func TestEnumLookups(t *testing.T) {
	v, err := Animation("weather_snow")
	require.NoError(t, err)
	assert.Equal(t, byte(107), v)

	v, err = Animation("")
	require.NoError(t, err)
	assert.Equal(t, byte(1), v)

	v, err = Priority("HIGHEST")
	require.NoError(t, err)
	assert.Equal(t, byte(64), v)

	_, err = Sound("trumpet")
	assert.ErrorIs(t, err, ErrUnknownEnumValue)

	df, err := DateFormat("month_day")
	require.NoError(t, err)
	assert.Equal(t, 3, df)
	name, ok := DateFormatName(3)
	assert.True(t, ok)
	assert.Equal(t, "month_day", name)

	assert.Equal(t, []string{"low", "medium", "high", "highest", "critical"}, PriorityNames())
	assert.Len(t, SoundNames(), 18)
}
