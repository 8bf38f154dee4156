package sector

import (
	"regexp"
	"sort"
	"strings"
)

// Classifier assigns sectors to content. A valid hint becomes the primary
// sector; remaining slots are filled from the classifier's own scoring.
type Classifier interface {
	Classify(content string, hint Sector) Assignment
}

type rule struct {
	re     *regexp.Regexp
	weight float64
}

// Heuristic is a deterministic keyword/pattern classifier. The same content
// always yields the same assignment.
type Heuristic struct {
	rules map[Sector][]rule
	// Secondary sectors must score at least this fraction of the primary's score.
	Ratio float64
	// Content whose best score is below MinScore (or zero) is filed under
	// Fallback alone.
	MinScore float64
}

func word(pattern string, weight float64) rule {
	return rule{re: regexp.MustCompile(`(?i)\b(?:` + pattern + `)\b`), weight: weight}
}

// NewHeuristic returns the default pattern set.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		Ratio:    0.5,
		MinScore: 1,
		rules: map[Sector][]rule{
			Episodic: {
				word(`yesterday|today|tonight|this morning|last (?:week|month|year|night)|ago`, 2),
				word(`remember when|happened|went|visited|met|attended|was at|were at`, 1.5),
				word(`on (?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)`, 1.5),
				word(`(?:19|20)\d\d-\d\d-\d\d|\d{1,2}:\d\d`, 1),
			},
			Semantic: {
				word(`is a|is an|are|means|defined as|refers to|consists of`, 1),
				word(`likes?|prefers?|favou?rite|uses|works at|lives in|name is`, 1.5),
				word(`fact|definition|concept|always|never|usually`, 1),
			},
			Procedural: {
				word(`how to|steps?|first|then|finally|next`, 1.5),
				word(`install|configure|run|deploy|build|compile|execute|click|type`, 1.5),
				word(`procedure|process|workflow|recipe|command|instructions?`, 1),
			},
			Emotional: {
				word(`feel|feels|felt|feeling|emotion(?:al)?`, 2),
				word(`happy|sad|angry|upset|excited|anxious|afraid|scared|frustrated|proud|love|hate|lonely|grateful`, 2),
				word(`wow|ugh|yay|awful|amazing|terrible|wonderful`, 1),
			},
			Reflective: {
				word(`realized?|learned|insight|lesson|in hindsight|looking back`, 2),
				word(`i think|i believe|i wonder|reflect(?:ing|ion)?|understand now`, 1.5),
				word(`pattern|tendency|growth|should have|next time`, 1),
			},
		},
	}
}

// Scores returns the raw pattern score for every sector.
func (h *Heuristic) Scores(content string) map[Sector]float64 {
	scores := make(map[Sector]float64, 5)
	text := strings.TrimSpace(content)
	for _, s := range All() {
		var total float64
		for _, r := range h.rules[s] {
			total += float64(len(r.re.FindAllStringIndex(text, -1))) * r.weight
		}
		scores[s] = total
	}
	return scores
}

// Classify implements Classifier.
func (h *Heuristic) Classify(content string, hint Sector) Assignment {
	scores := h.Scores(content)

	ranked := All()
	order := make(map[Sector]int, len(ranked))
	for i, s := range ranked {
		order[s] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return order[ranked[i]] < order[ranked[j]]
	})

	top := scores[ranked[0]]
	confident := top > 0 && top >= h.MinScore
	primary := ranked[0]
	if !confident {
		primary = Fallback
	}
	if hint.Valid() {
		primary = hint
	}

	out := []Sector{primary}
	if !confident {
		return Assignment{Primary: primary, Sectors: out}
	}
	for _, s := range ranked {
		if len(out) == MaxPerMemory {
			break
		}
		if s == primary || scores[s] == 0 || scores[s] < top*h.Ratio {
			continue
		}
		out = append(out, s)
	}
	return Assignment{Primary: primary, Sectors: out}
}
