package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n note) Validate() error {
	if n.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

type notebook struct {
	Notes    []note          `json:"notes"`
	ByKey    map[string]note `json:"byKey"`
	Active   string          `json:"active"`
	Total    int             `json:"total"`
	SyncedAt *time.Time      `json:"syncedAt,omitempty"`
}

func defaults() notebook {
	return notebook{Notes: []note{}, ByKey: map[string]note{}, Total: 0}
}

var t0 = time.Date(2026, 10, 19, 9, 30, 0, 123_000_000, time.UTC)

func TestRoundTrip(t *testing.T) {
	c := MustNew(1, defaults)
	synced := t0.Add(time.Hour)
	in := notebook{
		Notes:    []note{{ID: "a", Text: "first", CreatedAt: t0}, {ID: "b", Text: "second", CreatedAt: t0.Add(time.Minute)}},
		ByKey:    map[string]note{"k": {ID: "c", Text: "keyed", CreatedAt: t0}},
		Active:   "a",
		Total:    2,
		SyncedAt: &synced,
	}
	raw, err := c.Encode(in)
	require.NoError(t, err)
	require.Contains(t, raw, `"version":1`)
	require.Contains(t, raw, `"2026-10-19T09:30:00.123Z"`)

	res := c.Decode(raw)
	require.True(t, res.IsOk())
	out, err := res.Get()
	require.NoError(t, err)
	require.Zero(t, res.Dropped)
	require.Empty(t, cmp.Diff(in, out))
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := MustNew(1, defaults)
	in := notebook{ByKey: map[string]note{"z": {ID: "1"}, "a": {ID: "2"}, "m": {ID: "3"}}}
	first, err := c.Encode(in)
	require.NoError(t, err)
	for range 5 {
		again, err := c.Encode(in)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCorruptPayloadIsAnError(t *testing.T) {
	c := MustNew(1, defaults)
	res := c.Decode("{not json")
	require.False(t, res.IsOk())
	require.Equal(t, ReasonSyntax, res.Err().Reason)

	_, err := res.Get()
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestBadTimestampDropsOnlyThatRecord(t *testing.T) {
	c := MustNew(1, defaults)
	raw := `{"version":1,"data":{
		"notes":[
			{"id":"a","text":"ok","createdAt":"2026-10-19T09:30:00.123Z"},
			{"id":"b","text":"bad","createdAt":"yesterday-ish"},
			{"text":"no id","createdAt":"2026-10-19T09:30:00Z"},
			{"id":"d","text":"ok too","createdAt":"2026-10-19T09:31:00Z"}
		],
		"byKey":{"x":{"id":"x","createdAt":12},"y":{"id":"y","createdAt":"2026-10-19T09:30:00Z"}},
		"active":"a",
		"total":"many"
	}}`
	res := c.Decode(raw)
	require.True(t, res.IsOk())
	out, _ := res.Get()
	require.Equal(t, 4, res.Dropped)
	require.Len(t, out.Notes, 2)
	require.Equal(t, "a", out.Notes[0].ID)
	require.Equal(t, "d", out.Notes[1].ID)
	require.Len(t, out.ByKey, 1)
	require.Contains(t, out.ByKey, "y")
	require.Equal(t, "a", out.Active)
	require.Equal(t, 0, out.Total, "bad scalar keeps its default")
}

func TestNewerVersionIsRejected(t *testing.T) {
	c := MustNew(1, defaults)
	res := c.Decode(`{"version":7,"data":{}}`)
	require.False(t, res.IsOk())
	require.Equal(t, ReasonVersion, res.Err().Reason)
}

func TestLegacyPayloadIsMigrated(t *testing.T) {
	// Version 0 stored a bare array of notes; version 2 renamed "body" to "text".
	c := MustNew(2, defaults,
		Migration{From: 0, Query: `if type == "array" then {notes: ., total: length} else . end`},
		Migration{From: 1, Query: `.notes |= map(.text = (.body // .text) | del(.body))`},
	)
	res := c.Decode(`[{"id":"a","body":"hello","createdAt":"2026-10-19T09:30:00Z"}]`)
	require.True(t, res.IsOk(), "%v", res.Err())
	out, _ := res.Get()
	require.Equal(t, 0, res.FromVersion)
	require.Equal(t, 1, out.Total)
	require.Len(t, out.Notes, 1)
	require.Equal(t, "hello", out.Notes[0].Text)

	res = c.Decode(`{"version":1,"data":{"notes":[{"id":"b","body":"v1","createdAt":"2026-10-19T09:30:00Z"}]}}`)
	require.True(t, res.IsOk())
	out, _ = res.Get()
	require.Equal(t, "v1", out.Notes[0].Text)
}

func TestUnenvelopedObjectIsVersionZero(t *testing.T) {
	c := MustNew(1, defaults)
	res := c.Decode(`{"active":"legacy","notes":[]}`)
	require.True(t, res.IsOk())
	out, _ := res.Get()
	require.Equal(t, "legacy", out.Active)
	require.Equal(t, 0, res.FromVersion)
}

func TestMigrationErrorIsReported(t *testing.T) {
	c := MustNew(1, defaults, Migration{From: 0, Query: `error("unsupported legacy shape")`})
	res := c.Decode(`{"whatever":true}`)
	require.False(t, res.IsOk())
	require.Equal(t, ReasonMigration, res.Err().Reason)
}

func TestInvalidMigrationFailsNew(t *testing.T) {
	_, err := New(1, defaults, Migration{From: 0, Query: `.notes |=`})
	require.Error(t, err)
	_, err = New(3, defaults, Migration{From: 0, Query: `.`})
	require.Error(t, err, "versions 1 and 2 have no migration")
}

func TestNonObjectDataIsShapeError(t *testing.T) {
	c := MustNew(1, defaults)
	res := c.Decode(`{"version":1,"data":[1,2,3]}`)
	require.False(t, res.IsOk())
	require.Equal(t, ReasonShape, res.Err().Reason)
}

func TestUpgrade(t *testing.T) {
	c := MustNew(1, defaults,
		Migration{From: 0, Query: `if type == "array" then {notes: .} else . end`},
	)
	current, err := c.Encode(notebook{Notes: []note{{ID: "a", Text: "x", CreatedAt: t0}}, ByKey: map[string]note{}})
	require.NoError(t, err)

	out, changed, err := c.Upgrade(current)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, current, out)

	out, changed, err = c.Upgrade(`[{"id":"a","text":"x","createdAt":"2026-10-19T09:30:00.123Z"}]`)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, current, out)

	_, changed, err = c.Upgrade("{not json")
	require.Error(t, err)
	require.False(t, changed)
}
