package limits

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/beacon/pkg/sdk/records"
)

func newTestEnforcer(cfg Config) *Enforcer {
	return New(cfg, zerolog.Nop())
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	require.Equal(t, 128, cfg.MaxKeyLength)
	require.Equal(t, 256, cfg.MaxValueSize)
	require.Equal(t, 100, cfg.MaxSegmentationValues)
	require.Equal(t, 100, cfg.MaxBreadcrumbCount)
	require.Equal(t, 30, cfg.MaxStackTraceLinesPerThread)
	require.Equal(t, 200, cfg.MaxStackTraceLineLength)
}

func TestTrimKeyIdempotent(t *testing.T) {
	e := newTestEnforcer(Config{MaxKeyLength: 5})

	inputs := []string{"", "abc", "abcde", "abcdefgh", "héllo wörld", "日本語テキスト"}
	for _, in := range inputs {
		once := e.TrimKey(in, "test")
		twice := e.TrimKey(once, "test")
		if once != twice {
			t.Errorf("TrimKey not idempotent for %q: %q vs %q", in, once, twice)
		}
		if len([]rune(once)) > 5 {
			t.Errorf("TrimKey(%q) = %q exceeds limit", in, once)
		}
	}

	require.Equal(t, "日本語テキ", e.TrimKey("日本語テキスト", "test"))
}

func TestTrimValue(t *testing.T) {
	e := newTestEnforcer(Config{MaxValueSize: 3})
	require.Equal(t, "abc", e.TrimValue("abcdef", "test"))
	require.Equal(t, "ab", e.TrimValue("ab", "test"))
}

func TestFixSegmentation(t *testing.T) {
	e := newTestEnforcer(Config{MaxKeyLength: 4, MaxValueSize: 3, MaxSegmentationValues: 2})

	seg := records.NewSegmentation("first-key", "value1", "second", "v2", "third", "v3")
	fixed := e.FixSegmentation(seg, "test")

	// Only the first two entries survive, then get trimmed
	require.Equal(t, []records.Segment{{Key: "firs", Value: "val"}, {Key: "seco", Value: "v2"}}, fixed.Items())

	// Input is not mutated
	require.Equal(t, 3, seg.Len())

	require.Nil(t, e.FixSegmentation(nil, "test"))
}

func TestFixSegmentationTrimCollision(t *testing.T) {
	e := newTestEnforcer(Config{MaxKeyLength: 3})

	seg := records.NewSegmentation("abcX", "1", "abcY", "2")
	fixed := e.FixSegmentation(seg, "test")

	require.Equal(t, 1, fixed.Len())
	v, _ := fixed.Get("abc")
	require.Equal(t, "2", v)
}

func TestFixCustom(t *testing.T) {
	e := newTestEnforcer(Config{MaxSegmentationValues: 2, MaxValueSize: 2})

	out := e.FixCustom(map[string]string{"c": "333", "a": "111", "b": "222"}, "crash")
	require.Equal(t, map[string]string{"a": "11", "b": "22"}, out)
}

func TestFixProfile(t *testing.T) {
	e := newTestEnforcer(Config{MaxValueSize: 4, MaxKeyLength: 3})

	p := records.NewUserProfile()
	p.SetName("Augusta")
	p.SetEmail("ada@example.com")
	p.SetCustom("language", "english")

	e.FixProfile(p)

	require.Equal(t, "Augu", p.Name())
	require.Equal(t, "ada@", p.Email())
	v, ok := p.Custom().Get("lan")
	require.True(t, ok)
	require.Equal(t, "engl", v)
}

func TestTrimStackTrace(t *testing.T) {
	e := newTestEnforcer(Config{MaxStackTraceLinesPerThread: 3, MaxStackTraceLineLength: 5})

	stack := "line-one\nline-two\nline-three\nline-four"
	require.Equal(t, "line-\nline-\nline-", e.TrimStackTrace(stack))
	require.Equal(t, "", e.TrimStackTrace(""))
}

func TestBreadcrumbRingBound(t *testing.T) {
	const max, extra = 5, 3
	e := newTestEnforcer(Config{MaxBreadcrumbCount: max})
	b := e.NewBreadcrumbs()

	for i := 0; i < max+extra; i++ {
		e.AddBreadcrumb(b, fmt.Sprintf("crumb-%d", i))
	}

	items := b.Items()
	require.Len(t, items, max)
	for i, item := range items {
		want := fmt.Sprintf("crumb-%d", i+extra)
		if item != want {
			t.Errorf("items[%d] = %q, want %q", i, item, want)
		}
	}

	require.Equal(t, strings.Join(items, "\n"), b.Joined())

	b.Clear()
	require.Empty(t, b.Items())
}

func TestBreadcrumbTrimmed(t *testing.T) {
	e := newTestEnforcer(Config{MaxValueSize: 4})
	b := e.NewBreadcrumbs()

	e.AddBreadcrumb(b, "clicked checkout")
	require.Equal(t, []string{"clic"}, b.Items())
}
