package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	cases := map[string]string{
		"yyyy-MM-dd HH:mm":       "2006-01-02 15:04",
		"dd.MM.yy":               "02.01.06",
		"d MMM yyyy, h:mm a":     "2 Jan 2006, 3:04 PM",
		"EEEE HH:mm:ss":          "Monday 15:04:05",
		"yyyy-MM-dd'T'HH:mm":     "2006-01-02T15:04",
		"''yy''":                 "'06'",
		"MMMM d":                 "January 2",
	}
	for pattern, want := range cases {
		got, err := Layout(pattern)
		require.NoError(t, err, pattern)
		assert.Equal(t, want, got, pattern)
	}
}

func TestLayoutErrors(t *testing.T) {
	_, err := Layout("")
	assert.ErrorIs(t, err, ErrEmptyPattern)

	_, err = Layout("yyyy QQ")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFormatParseRoundTrip(t *testing.T) {
	f, err := NewIn(DefaultPattern, time.UTC)
	require.NoError(t, err)

	at := time.Date(2024, 3, 9, 17, 45, 0, 0, time.UTC)
	s := f.Format(at)
	assert.Equal(t, "2024-03-09 17:45", s)

	back, err := f.Parse(s)
	require.NoError(t, err)
	assert.True(t, at.Equal(back))
}

func TestNullTime(t *testing.T) {
	f := Default()
	assert.Equal(t, "", f.Format(Null))

	back, err := f.Parse("")
	require.NoError(t, err)
	assert.True(t, IsNull(back))
}

func TestSetPatternKeepsPreviousOnError(t *testing.T) {
	f, err := NewIn(DefaultPattern, time.UTC)
	require.NoError(t, err)

	require.Error(t, f.SetPattern("QQQ"))
	assert.Equal(t, DefaultPattern, f.Pattern())

	require.NoError(t, f.SetPattern("dd/MM/yyyy"))
	assert.Equal(t, "09/03/2024", f.Format(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
}

func TestParseError(t *testing.T) {
	f := Default()
	_, err := f.Parse("not a time")
	assert.Error(t, err)
}
