package retriever

import "strings"

// Strategy is one retrieval approach from the closed set the model chooses
// from. The set is fixed; anything else the model emits is mapped back onto
// it deterministically.
type Strategy string

// Retrieval strategies.
const (
	StrategyDirect      Strategy = "direct"
	StrategyContextual  Strategy = "contextual"
	StrategySemantic    Strategy = "semantic"
	StrategySpecific    Strategy = "specific"
	StrategyAlternative Strategy = "alternative"
)

// Strategies lists the closed set in its canonical order. Rotation and
// first-unused selection both follow this order.
var Strategies = []Strategy{
	StrategyDirect,
	StrategyContextual,
	StrategySemantic,
	StrategySpecific,
	StrategyAlternative,
}

// strategyHints are the prompt fragments describing each strategy to the
// model.
var strategyHints = map[Strategy]string{
	StrategyDirect:      "core keyword lookup",
	StrategyContextual:  "keywords expanded with instruction context",
	StrategySemantic:    "related concepts, not literal terms",
	StrategySpecific:    "specific cases, data, standards",
	StrategyAlternative: "synonyms and lateral terms",
}

// Valid reports whether s is in the closed set.
func (s Strategy) Valid() bool {
	_, ok := strategyHints[s]
	return ok
}

// Hint returns the prompt fragment for s.
func (s Strategy) Hint() string { return strategyHints[s] }

// ParseStrategy normalizes model output onto the closed set. Unknown values
// fall back to the first strategy not yet attempted; with every strategy
// attempted it falls back to direct.
func ParseStrategy(raw string, attempted []Strategy) Strategy {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return firstUnused(attempted)
}

// NextUnused returns the first strategy after s (cyclically, canonical order)
// that is not in attempted. With every strategy attempted it returns the one
// after s.
func NextUnused(s Strategy, attempted []Strategy) Strategy {
	start := 0
	for i, candidate := range Strategies {
		if candidate == s {
			start = i
			break
		}
	}
	for offset := 1; offset <= len(Strategies); offset++ {
		candidate := Strategies[(start+offset)%len(Strategies)]
		if !contains(attempted, candidate) {
			return candidate
		}
	}
	return Strategies[(start+1)%len(Strategies)]
}

func firstUnused(attempted []Strategy) Strategy {
	for _, s := range Strategies {
		if !contains(attempted, s) {
			return s
		}
	}
	return StrategyDirect
}

func contains(list []Strategy, s Strategy) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
