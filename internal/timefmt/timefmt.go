// Package timefmt formats and parses fact timestamps using the
// letter patterns stored in the #time-format setting (yyyy-MM-dd HH:mm).
package timefmt

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultPattern is used until a #time-format fact says otherwise.
const DefaultPattern = "yyyy-MM-dd HH:mm"

// Null marks a timestamp as absent. It formats as "" and "" parses back to it.
var Null = time.UnixMilli(0).UTC()

// IsNull reports whether t is the Null sentinel.
func IsNull(t time.Time) bool {
	return t.Equal(Null)
}

var (
	ErrEmptyPattern = errors.New("timefmt: empty pattern")
	ErrUnsupported  = errors.New("timefmt: unsupported pattern letter")
)

type compiled struct {
	pattern string
	layout  string
}

// Formatter converts between time.Time and text. The pattern can be swapped
// at runtime; concurrent Format and Parse calls see either the old or the new
// pattern.
type Formatter struct {
	current atomic.Pointer[compiled]
	loc     *time.Location
}

// New returns a Formatter for pattern in the local time zone.
func New(pattern string) (*Formatter, error) {
	return NewIn(pattern, time.Local)
}

// NewIn returns a Formatter for pattern in loc.
func NewIn(pattern string, loc *time.Location) (*Formatter, error) {
	f := &Formatter{loc: loc}
	if err := f.SetPattern(pattern); err != nil {
		return nil, err
	}
	return f, nil
}

// Default returns a Formatter for DefaultPattern.
func Default() *Formatter {
	f, err := New(DefaultPattern)
	if err != nil {
		panic(err)
	}
	return f
}

// SetPattern replaces the pattern. The previous pattern stays in effect if
// the new one cannot be translated.
func (f *Formatter) SetPattern(pattern string) error {
	layout, err := Layout(pattern)
	if err != nil {
		return err
	}
	f.current.Store(&compiled{pattern: pattern, layout: layout})
	return nil
}

// Pattern returns the current pattern.
func (f *Formatter) Pattern() string {
	return f.current.Load().pattern
}

// Layout returns the Go reference layout of the current pattern.
func (f *Formatter) Layout() string {
	return f.current.Load().layout
}

// Format renders t, or "" for the Null time.
func (f *Formatter) Format(t time.Time) string {
	if IsNull(t) {
		return ""
	}
	return t.In(f.loc).Format(f.Layout())
}

// Parse reads s, mapping "" to the Null time.
func (f *Formatter) Parse(s string) (time.Time, error) {
	if s == "" {
		return Null, nil
	}
	t, err := time.ParseInLocation(f.Layout(), s, f.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q with %q: %w", s, f.Pattern(), err)
	}
	return t, nil
}

// Layout translates a letter pattern into a Go reference layout. Text in
// single quotes is literal and '' is a quote; other non-letters are copied.
func Layout(pattern string) (string, error) {
	if pattern == "" {
		return "", ErrEmptyPattern
	}

	rs := []rune(pattern)
	var b strings.Builder

	for i := 0; i < len(rs); {
		r := rs[i]

		if r == '\'' {
			if i+1 < len(rs) && rs[i+1] == '\'' {
				b.WriteRune('\'')
				i += 2
				continue
			}
			j := i + 1
			for j < len(rs) && rs[j] != '\'' {
				b.WriteRune(rs[j])
				j++
			}
			i = j + 1
			continue
		}

		if !isLetter(r) {
			b.WriteRune(r)
			i++
			continue
		}

		j := i
		for j < len(rs) && rs[j] == r {
			j++
		}
		tok, err := token(r, j-i)
		if err != nil {
			return "", fmt.Errorf("%w: %q in %q", err, string(rs[i:j]), pattern)
		}
		b.WriteString(tok)
		i = j
	}

	return b.String(), nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func token(r rune, n int) (string, error) {
	switch r {
	case 'y', 'u':
		if n == 2 {
			return "06", nil
		}
		return "2006", nil
	case 'M', 'L':
		switch {
		case n == 1:
			return "1", nil
		case n == 2:
			return "01", nil
		case n == 3:
			return "Jan", nil
		default:
			return "January", nil
		}
	case 'd':
		if n == 1 {
			return "2", nil
		}
		return "02", nil
	case 'H':
		return "15", nil
	case 'h':
		if n == 1 {
			return "3", nil
		}
		return "03", nil
	case 'm':
		if n == 1 {
			return "4", nil
		}
		return "04", nil
	case 's':
		if n == 1 {
			return "5", nil
		}
		return "05", nil
	case 'a':
		return "PM", nil
	case 'E':
		if n >= 4 {
			return "Monday", nil
		}
		return "Mon", nil
	case 'z':
		return "MST", nil
	case 'Z':
		return "-0700", nil
	}
	return "", ErrUnsupported
}
