// Package dedup decides whether a candidate row already exists among rows
// seen so far. It holds no persistent state; callers grow the comparison set
// as they accept rows.
package dedup

import (
	"strings"

	"github.com/dhcgn/inbox-to-sheets/model"
)

// Rule names the test that classified a row as a duplicate.
type Rule int

const (
	// RuleNone means the row is new.
	RuleNone Rule = iota
	// RuleExact means all four cells match after normalization.
	RuleExact
	// RuleIdentity means sender, subject, and timestamp match regardless of body.
	RuleIdentity
)

func (r Rule) String() string {
	switch r {
	case RuleExact:
		return "exact"
	case RuleIdentity:
		return "identity"
	default:
		return "none"
	}
}

// Duplicate reports whether the rule marks a duplicate.
func (r Rule) Duplicate() bool {
	return r != RuleNone
}

const identityColumns = 3

// normalizeCell is the comparison form of a cell: trimmed and lower-cased.
func normalizeCell(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Check compares candidate against every row of seen in order. The header
// sentinel is never treated as data.
func Check(candidate model.Row, seen []model.Row) Rule {
	c := keyOf(candidate)
	rule := RuleNone
	for _, row := range seen {
		if row.IsHeader() {
			continue
		}
		k := keyOf(row)
		if k.exact == c.exact {
			return RuleExact
		}
		if k.identity == c.identity {
			rule = RuleIdentity
		}
	}
	return rule
}

type key struct {
	exact    string
	identity string
}

func keyOf(row model.Row) key {
	p := row.Padded()
	cells := make([]string, len(p))
	for i, cell := range p {
		cells[i] = normalizeCell(cell)
	}
	return key{
		exact:    strings.Join(cells, "\x00"),
		identity: strings.Join(cells[:identityColumns], "\x00"),
	}
}

// Index is the in-pass comparison set: it is seeded with the rows already in
// the table and extended with every row accepted during the pass, so that
// duplicates inside one batch are caught as well.
type Index struct {
	exact    map[string]struct{}
	identity map[string]struct{}
	size     int
}

// NewIndex builds an Index over seed.
func NewIndex(seed []model.Row) *Index {
	ix := &Index{
		exact:    make(map[string]struct{}, len(seed)),
		identity: make(map[string]struct{}, len(seed)),
	}
	for _, row := range seed {
		ix.Add(row)
	}
	return ix
}

// Check classifies row against the set. It gives the same answer as Check
// over the rows added so far.
func (ix *Index) Check(row model.Row) Rule {
	k := keyOf(row)
	if _, ok := ix.exact[k.exact]; ok {
		return RuleExact
	}
	if _, ok := ix.identity[k.identity]; ok {
		return RuleIdentity
	}
	return RuleNone
}

// Add extends the set with row. Header rows are ignored.
func (ix *Index) Add(row model.Row) {
	if row.IsHeader() {
		return
	}
	k := keyOf(row)
	ix.exact[k.exact] = struct{}{}
	ix.identity[k.identity] = struct{}{}
	ix.size++
}

// Len returns the number of rows added to the set.
func (ix *Index) Len() int {
	return ix.size
}
