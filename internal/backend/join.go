package backend

import (
	"slices"
	"strings"

	"github.com/koustreak/datamodel/internal/errs"
)

// JoinKind is the closed set of join operators understood by the planner.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinSemi
	JoinAnti
	// JoinNest would nest the right table into a list column. It is part of
	// the enumeration so callers can name it, but no planner accepts it.
	JoinNest
)

var joinNames = [...]string{
	JoinInner: "inner",
	JoinLeft:  "left",
	JoinRight: "right",
	JoinFull:  "full",
	JoinSemi:  "semi",
	JoinAnti:  "anti",
	JoinNest:  "nest",
}

func (k JoinKind) String() string {
	if k.Valid() {
		return joinNames[k]
	}
	return "invalid"
}

// Valid reports whether k is a member of the enumeration.
func (k JoinKind) Valid() bool {
	return k >= JoinInner && k <= JoinNest
}

// AddsColumns reports whether the join contributes right-hand columns.
// Semi and anti joins only ever drop left rows.
func (k JoinKind) AddsColumns() bool {
	return k != JoinSemi && k != JoinAnti
}

// KeepsUnmatchedRight reports whether right rows without a left match
// appear in the result.
func (k JoinKind) KeepsUnmatchedRight() bool {
	return k == JoinRight || k == JoinFull
}

// MarshalText implements encoding.TextMarshaler for config files.
func (k JoinKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (k *JoinKind) UnmarshalText(text []byte) error {
	parsed, err := ParseJoinKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseJoinKind parses "inner", "left_join", "FULL", … into a JoinKind.
func ParseJoinKind(s string) (JoinKind, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_join")
	for k, n := range joinNames {
		if n == name {
			return JoinKind(k), nil
		}
	}
	return 0, errs.Newf(errs.ErrKindUnsupportedJoinKind, "unknown join kind %q", s)
}

// JoinColumns computes the result columns of joining left and right on on,
// following the contract's column semantics. It fails when a join column is
// missing or the result would contain a duplicate name.
func JoinColumns(kind JoinKind, left, right []string, on []On) ([]string, error) {
	if len(on) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "join without join columns")
	}
	dropped := make(map[string]bool, len(on))
	for _, o := range on {
		if !slices.Contains(left, o.Left) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "join column %q missing on the left side", o.Left)
		}
		if !slices.Contains(right, o.Right) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "join column %q missing on the right side", o.Right)
		}
		dropped[o.Right] = true
	}

	out := append([]string(nil), left...)
	if !kind.AddsColumns() {
		return out, nil
	}

	seen := make(map[string]bool, len(left)+len(right))
	for _, c := range left {
		seen[c] = true
	}
	for _, c := range right {
		if dropped[c] {
			continue
		}
		if seen[c] {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "column %q present on both sides of the join", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
