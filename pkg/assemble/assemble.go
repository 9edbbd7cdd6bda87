// Package assemble renders a finished plan into the final document. It walks
// the plan in stored order; concurrency upstream never changes heading order.
package assemble

import (
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/pkg/plan"
)

// Stats summarizes the assembled document for the run report.
type Stats struct {
	Parts             int
	Sections          int
	CompletedSections int
	TotalChars        int
	MeanQuality       float64
}

// Document renders the plan as Markdown: one top-level heading and goal
// paragraph per part, one second-level heading and prose block per leaf.
func Document(p *plan.Plan) (string, Stats) {
	var b strings.Builder
	stats := Stats{Parts: len(p.Parts)}
	var qualitySum float64

	for pi := range p.Parts {
		part := &p.Parts[pi]
		fmt.Fprintf(&b, "# %s\n\n", part.Title)
		if part.Goal != "" {
			fmt.Fprintf(&b, "%s\n\n", part.Goal)
		}
		for li := range part.Leaves {
			leaf := &part.Leaves[li]
			fmt.Fprintf(&b, "## %s\n\n", leaf.Subtitle)
			if leaf.Prose != "" {
				fmt.Fprintf(&b, "%s\n\n", leaf.Prose)
			}

			stats.Sections++
			stats.TotalChars += len(leaf.Prose)
			qualitySum += leaf.Quality
			if leaf.Prose != "" && leaf.Quality > 0 {
				stats.CompletedSections++
			}
		}
	}

	if stats.Sections > 0 {
		stats.MeanQuality = qualitySum / float64(stats.Sections)
	}
	return strings.TrimRight(b.String(), "\n") + "\n", stats
}
