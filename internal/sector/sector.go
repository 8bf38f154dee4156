// Package sector defines the five cognitive sectors a memory can belong to
// and the classifier that assigns them.
package sector

import (
	"fmt"
	"strings"

	"github.com/lazypower/mnemo/internal/errs"
)

// Sector is a cognitive category with its own vector space and decay rate.
type Sector string

const (
	Episodic   Sector = "episodic"
	Semantic   Sector = "semantic"
	Procedural Sector = "procedural"
	Emotional  Sector = "emotional"
	Reflective Sector = "reflective"
)

// Fallback is assigned when no sector scores confidently.
const Fallback = Semantic

// MaxPerMemory bounds how many sectors one memory is embedded into.
const MaxPerMemory = 3

// All returns every sector in canonical order.
func All() []Sector {
	return []Sector{Episodic, Semantic, Procedural, Emotional, Reflective}
}

// Valid reports whether s is one of the five sectors.
func (s Sector) Valid() bool {
	switch s {
	case Episodic, Semantic, Procedural, Emotional, Reflective:
		return true
	}
	return false
}

func (s Sector) String() string { return string(s) }

// Parse converts a user-supplied name into a Sector.
func Parse(name string) (Sector, error) {
	s := Sector(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", errs.Validation("unknown sector %q", name)
	}
	return s, nil
}

// ParseList parses a list of names, dropping duplicates but keeping order.
func ParseList(names []string) ([]Sector, error) {
	out := make([]Sector, 0, len(names))
	seen := make(map[Sector]bool, len(names))
	for _, n := range names {
		s, err := Parse(n)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// Assignment is the classifier's output: Sectors[0] is always Primary.
type Assignment struct {
	Primary Sector
	Sectors []Sector
}

// Validate checks the assignment's shape.
func (a Assignment) Validate() error {
	if len(a.Sectors) == 0 || len(a.Sectors) > MaxPerMemory {
		return fmt.Errorf("assignment has %d sectors, want 1..%d", len(a.Sectors), MaxPerMemory)
	}
	if a.Sectors[0] != a.Primary {
		return fmt.Errorf("primary %s is not first in %v", a.Primary, a.Sectors)
	}
	seen := make(map[Sector]bool, len(a.Sectors))
	for _, s := range a.Sectors {
		if !s.Valid() {
			return fmt.Errorf("invalid sector %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate sector %s", s)
		}
		seen[s] = true
	}
	return nil
}

// Contains reports whether s is part of the assignment.
func (a Assignment) Contains(s Sector) bool {
	for _, x := range a.Sectors {
		if x == s {
			return true
		}
	}
	return false
}
