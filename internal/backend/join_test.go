package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/datamodel/internal/errs"
)

func TestParseJoinKind(t *testing.T) {
	tests := map[string]JoinKind{
		"inner":     JoinInner,
		"left_join": JoinLeft,
		"RIGHT":     JoinRight,
		" full ":    JoinFull,
		"semi_join": JoinSemi,
		"anti":      JoinAnti,
		"nest_join": JoinNest,
	}
	for in, want := range tests {
		got, err := ParseJoinKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseJoinKind("cross")
	assert.True(t, errs.Is(err, errs.ErrKindUnsupportedJoinKind))
}

func TestJoinKind_TextRoundTrip(t *testing.T) {
	for k := JoinInner; k <= JoinNest; k++ {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back JoinKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	assert.Equal(t, "invalid", JoinKind(42).String())
}

func TestJoinKind_Capabilities(t *testing.T) {
	assert.False(t, JoinSemi.AddsColumns())
	assert.False(t, JoinAnti.AddsColumns())
	assert.True(t, JoinLeft.AddsColumns())
	assert.True(t, JoinRight.KeepsUnmatchedRight())
	assert.True(t, JoinFull.KeepsUnmatchedRight())
	assert.False(t, JoinInner.KeepsUnmatchedRight())
}

func TestJoinColumns(t *testing.T) {
	left := []string{"id", "customer_id", "amount"}
	right := []string{"customer_id", "name"}
	on := []On{{Left: "customer_id", Right: "customer_id"}}

	cols, err := JoinColumns(JoinLeft, left, right, on)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer_id", "amount", "name"}, cols)

	cols, err = JoinColumns(JoinSemi, left, right, on)
	require.NoError(t, err)
	assert.Equal(t, left, cols)

	_, err = JoinColumns(JoinInner, left, []string{"customer_id", "amount"}, on)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = JoinColumns(JoinInner, left, right, []On{{Left: "nope", Right: "customer_id"}})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = JoinColumns(JoinInner, left, right, nil)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestFrame(t *testing.T) {
	f := &Frame{Columns: []string{"id", "name"}, Rows: [][]any{{1, "a"}, {2, "b"}}}
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []any{"a", "b"}, f.Column("name"))
	assert.Nil(t, f.Column("missing"))
	assert.Equal(t, map[string]any{"id": 2, "name": "b"}, f.Maps()[1])
}
