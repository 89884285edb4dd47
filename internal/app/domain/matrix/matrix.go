// Package matrix models the two forced-matrix compensation programs: their
// tier layouts, payout splits, fill state and level gating. Everything here
// is pure computation over values read from the contract; nothing mutates
// ledger state.
package matrix

import "fmt"

// Program identifies a compensation program. The values match the contract's
// program arguments.
type Program uint8

const (
	// ProgramX4 is the 2x2 matrix: 2 then 4 positions, 6 total.
	ProgramX4 Program = 1
	// ProgramXXX is the 2+4+8 matrix: 14 positions with percentage splits.
	ProgramXXX Program = 2
)

// MaxLevel is the highest purchasable level in either program.
const MaxLevel = 12

func (p Program) String() string {
	switch p {
	case ProgramX4:
		return "x4"
	case ProgramXXX:
		return "xXx"
	default:
		return fmt.Sprintf("program(%d)", uint8(p))
	}
}

// Valid reports whether p is a known program.
func (p Program) Valid() bool {
	return p == ProgramX4 || p == ProgramXXX
}

// ParseProgram resolves a contract program id.
func ParseProgram(v uint8) (Program, error) {
	p := Program(v)
	if !p.Valid() {
		return 0, fmt.Errorf("unknown program %d", v)
	}
	return p, nil
}

// ValidateLevel rejects level indexes outside 1..MaxLevel. Levels are
// 1-based throughout.
func ValidateLevel(level int) error {
	if level < 1 || level > MaxLevel {
		return fmt.Errorf("level %d out of range 1..%d", level, MaxLevel)
	}
	return nil
}

// Tier describes one ring of positions within a level.
type Tier struct {
	Name      string
	Positions int
	// SelfPercent and UplinePercent split each payment landing on this
	// tier. They always sum to exactly 100.
	SelfPercent   int
	UplinePercent int
}

var x4Tiers = []Tier{
	{Name: "first line", Positions: 2, SelfPercent: 0, UplinePercent: 100},
	{Name: "second line", Positions: 4, SelfPercent: 100, UplinePercent: 0},
}

var xxxTiers = []Tier{
	{Name: "first line", Positions: 2, SelfPercent: 0, UplinePercent: 100},
	{Name: "second line", Positions: 4, SelfPercent: 30, UplinePercent: 70},
	{Name: "third line", Positions: 8, SelfPercent: 70, UplinePercent: 30},
}

// TierLayout returns the ordered tier descriptors for a program.
func TierLayout(p Program) ([]Tier, error) {
	switch p {
	case ProgramX4:
		return x4Tiers, nil
	case ProgramXXX:
		return xxxTiers, nil
	default:
		return nil, fmt.Errorf("unknown program %d", uint8(p))
	}
}

// PayoutSplit returns the (self, upline) percentage split for a tier index.
func PayoutSplit(p Program, tier int) (self, upline int, err error) {
	layout, err := TierLayout(p)
	if err != nil {
		return 0, 0, err
	}
	if tier < 0 || tier >= len(layout) {
		return 0, 0, fmt.Errorf("program %s has no tier %d", p, tier)
	}
	return layout[tier].SelfPercent, layout[tier].UplinePercent, nil
}

// TotalPositions returns the number of positions a full cycle holds: 6 for
// x4, 14 for xXx.
func TotalPositions(p Program) int {
	layout, err := TierLayout(p)
	if err != nil {
		return 0
	}
	total := 0
	for _, t := range layout {
		total += t.Positions
	}
	return total
}
