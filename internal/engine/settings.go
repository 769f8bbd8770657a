package engine

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/key"
	"github.com/moforw/albaum/internal/timefmt"
)

const (
	DefaultFont          = "DejaVu Sans Mono"
	DefaultFontSize      = 10
	DefaultFlashInterval = 20 * time.Second
)

// setting returns the value of the stored setting fact led by name.
func (e *Engine) setting(name string) (string, bool) {
	prefix := name + " "
	f := e.main.Root().FindFirstFact(prefix)
	if f == nil {
		return "", false
	}
	return strings.TrimSpace(strings.ReplaceAll(f.Text, prefix, "")), true
}

// Caption returns the stored caption, or "".
func (e *Engine) Caption() string {
	c, _ := e.setting(index.SettingCaption)
	return c
}

// Title is the window title for an application at version.
func (e *Engine) Title(version string) string {
	t := "Albaum " + version
	if c := e.Caption(); c != "" {
		t += " | " + c
	}
	return t
}

// Font returns the stored font name, or DefaultFont.
func (e *Engine) Font() string {
	if f, ok := e.setting(index.SettingFont); ok && f != "" {
		return f
	}
	return DefaultFont
}

// FontSize returns the stored font size, or DefaultFontSize when none is
// stored or the stored value is not a positive number.
func (e *Engine) FontSize() int {
	s, ok := e.setting(index.SettingFontSize)
	if !ok || s == "" {
		return DefaultFontSize
	}
	size, err := strconv.Atoi(s)
	if err != nil || size <= 0 {
		e.log.Warn("ignoring font size", zap.String("value", s))
		return DefaultFontSize
	}
	return size
}

// SetFontSize stores size as the font size setting.
func (e *Engine) SetFontSize(ctx context.Context, size int) error {
	_, err := e.Store(ctx, index.SettingFontSize+" "+strconv.Itoa(size))
	return err
}

// TimeFormat returns the pattern timestamps are written with.
func (e *Engine) TimeFormat() string {
	return e.main.Clock().Pattern()
}

// reloadClock applies the stored time format, falling back to the default
// when none is stored or the stored one is unusable.
func (e *Engine) reloadClock() {
	p, ok := e.setting(index.SettingTimeFormat)
	if !ok || p == "" {
		p = timefmt.DefaultPattern
	}
	if err := e.main.Clock().SetPattern(p); err != nil {
		e.log.Warn("ignoring time format", zap.String("pattern", p), zap.Error(err))
		_ = e.main.Clock().SetPattern(timefmt.DefaultPattern)
	}
}

func (e *Engine) afterStore(text string) {
	if key.Next(text, 0) == index.SettingTimeFormat {
		e.reloadClock()
	}
	if strings.Contains(text, index.TagFlash) {
		e.rotateFlash()
	}
}

// Flash picks one of the stored flash messages at random, or "" when there
// are none.
func (e *Engine) Flash() string {
	var texts []string
	for _, f := range e.main.Root().FindAllFacts(index.TagFlash + " ") {
		t := strings.ReplaceAll(strings.ReplaceAll(f.Text, index.TagFlash, ""), "  ", " ")
		if t = strings.TrimSpace(t); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return ""
	}
	return texts[rand.IntN(len(texts))]
}

// CurrentFlash returns the message picked by the last rotation.
func (e *Engine) CurrentFlash() string {
	return *e.flash.Load()
}

func (e *Engine) rotateFlash() {
	s := e.Flash()
	e.flash.Store(&s)
}

// StartFlashTimer picks a flash message now and then every interval until
// Close.
func (e *Engine) StartFlashTimer(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlashInterval
	}
	e.rotateFlash()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.rotateFlash()
			case <-e.stopCh:
				return
			}
		}
	}()
}
