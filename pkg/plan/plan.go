// Package plan defines the document plan tree that flows through the
// generation pipeline. The Planner creates it, the Retriever and Writer
// enrich its leaves, and the Assembler reads it in stored order.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DocKind classifies the document being generated.
type DocKind string

// Document kind constants.
const (
	DocKindTechnical  DocKind = "technical"
	DocKindUserManual DocKind = "user_manual"
	DocKindResearch   DocKind = "research"
	DocKindTutorial   DocKind = "tutorial"
)

// Valid reports whether k is one of the known document kinds.
func (k DocKind) Valid() bool {
	switch k {
	case DocKindTechnical, DocKindUserManual, DocKindResearch, DocKindTutorial:
		return true
	}
	return false
}

// Leaf is the atomic unit of the plan: one subheading of the final document.
// Fields are filled in by successive stages and never shared between workers.
type Leaf struct {
	Subtitle   string  `json:"subtitle"`
	HowToWrite string  `json:"how_to_write,omitempty"`
	Evidence   string  `json:"evidence,omitempty"`
	Quality    float64 `json:"quality,omitempty"`
	Prose      string  `json:"prose,omitempty"`
}

// Part is a top-level section: a title, the reason it exists, and its leaves.
type Part struct {
	Title  string `json:"title"`
	Goal   string `json:"goal"`
	Leaves []Leaf `json:"leaves"`
}

// Plan is the evolving document specification.
type Plan struct {
	Request string  `json:"request"`
	DocKind DocKind `json:"doc_kind"`
	Parts   []Part  `json:"parts"`
}

// LeafRef addresses a leaf deterministically by position. Stage results are
// merged back into the plan by (part index, leaf index), so concurrent
// completion order never reorders the tree.
type LeafRef struct {
	PartIndex int
	LeafIndex int
}

// String returns a stable identifier for logs, e.g. "2.0".
func (r LeafRef) String() string {
	return fmt.Sprintf("%d.%d", r.PartIndex, r.LeafIndex)
}

// Leaves returns references to every leaf in stored order.
func (p *Plan) Leaves() []LeafRef {
	var refs []LeafRef
	for pi := range p.Parts {
		for li := range p.Parts[pi].Leaves {
			refs = append(refs, LeafRef{PartIndex: pi, LeafIndex: li})
		}
	}
	return refs
}

// Leaf returns a pointer to the addressed leaf. The caller owns all writes
// to it for the duration of a stage.
func (p *Plan) Leaf(r LeafRef) *Leaf {
	return &p.Parts[r.PartIndex].Leaves[r.LeafIndex]
}

// LeafCount returns the total number of leaves.
func (p *Plan) LeafCount() int {
	n := 0
	for i := range p.Parts {
		n += len(p.Parts[i].Leaves)
	}
	return n
}

// Clone returns a deep copy. Stages operate as (Plan) -> Plan: each stage
// clones its input and mutates only the copy, so no plan value is ever
// aliased across stage boundaries.
func (p *Plan) Clone() *Plan {
	out := &Plan{
		Request: p.Request,
		DocKind: p.DocKind,
		Parts:   make([]Part, len(p.Parts)),
	}
	for i, part := range p.Parts {
		cp := part
		cp.Leaves = make([]Leaf, len(part.Leaves))
		copy(cp.Leaves, part.Leaves)
		out.Parts[i] = cp
	}
	return out
}

// Validate checks the structural invariants that every stage relies on.
func (p *Plan) Validate() error {
	if len(p.Parts) == 0 {
		return fmt.Errorf("plan has no parts")
	}
	for pi, part := range p.Parts {
		if part.Title == "" {
			return fmt.Errorf("part %d: empty title", pi)
		}
		if len(part.Leaves) == 0 {
			return fmt.Errorf("part %d (%q): no leaves", pi, part.Title)
		}
		for li, leaf := range part.Leaves {
			if leaf.Subtitle == "" {
				return fmt.Errorf("part %d leaf %d: empty subtitle", pi, li)
			}
			if leaf.Quality < 0 || leaf.Quality > 1 {
				return fmt.Errorf("part %d leaf %d: quality %v outside [0,1]", pi, li, leaf.Quality)
			}
		}
	}
	return nil
}

// Save serializes the plan to path as indented JSON, creating parent
// directories as needed.
func (p *Plan) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// Load reads a plan previously written by Save. Supports restart-from-JSON
// workflows where a later stage is re-run on a persisted plan.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &p, nil
}
