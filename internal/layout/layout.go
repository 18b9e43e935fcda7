// Package layout places notes on a 2D canvas for the library graph view.
//
// The placement is static: notes are grouped by subject into clusters laid
// out on a circle, each with a hub note at its center and the rest on
// concentric rings. The same notes in the same order always produce the same
// coordinates.
package layout

import (
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/lumen/internal/models"
)

const (
	// LabelRunes is the longest label, in runes, including the ellipsis.
	LabelRunes = 18

	firstOrbit   = 80.0
	orbitSpacing = 40.0
	perRing      = 5
)

// Config sizes the canvas and the nodes.
type Config struct {
	Width           float64 `yaml:"width"`
	Height          float64 `yaml:"height"`
	ClusterDistance float64 `yaml:"cluster_distance"`
	HubRadius       float64 `yaml:"hub_radius"`
	LeafRadius      float64 `yaml:"leaf_radius"`
}

// DefaultConfig returns the canvas used by the library view.
func DefaultConfig() Config {
	return Config{Width: 1200, Height: 900, ClusterDistance: 260, HubRadius: 28, LeafRadius: 16}
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Width, validation.Required, validation.Min(1.0)),
		validation.Field(&c.Height, validation.Required, validation.Min(1.0)),
		validation.Field(&c.ClusterDistance, validation.Min(0.0)),
		validation.Field(&c.HubRadius, validation.Required, validation.Min(1.0)),
		validation.Field(&c.LeafRadius, validation.Required, validation.Min(1.0)),
	)
}

// Node is a placed note.
type Node struct {
	NoteID    string  `json:"note_id"`
	SubjectID string  `json:"subject_id"`
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Hub       bool    `json:"hub"`
}

// Edge connects two placed notes.
type Edge struct {
	LinkID   string  `json:"link_id"`
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// Cluster is the placement of one subject.
type Cluster struct {
	SubjectID string  `json:"subject_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Angle     float64 `json:"angle"`
}

// Graph is the computed layout.
type Graph struct {
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Clusters []Cluster `json:"clusters"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
}

// Compute lays out notes. Subjects are ordered by first appearance in notes,
// and notes keep their input order within a subject. Links with an endpoint
// that is not among notes are dropped.
func Compute(notes []models.Note, links []models.SemanticLink, cfg Config) Graph {
	g := Graph{Width: cfg.Width, Height: cfg.Height, Clusters: []Cluster{}, Nodes: []Node{}, Edges: []Edge{}}

	var order []string
	groups := make(map[string][]models.Note)
	for _, n := range notes {
		if _, ok := groups[n.SubjectID]; !ok {
			order = append(order, n.SubjectID)
		}
		groups[n.SubjectID] = append(groups[n.SubjectID], n)
	}

	cx, cy := cfg.Width/2, cfg.Height/2
	placed := make(map[string]bool, len(notes))
	for gi, subject := range order {
		angle := 2*math.Pi*float64(gi)/float64(len(order)) - math.Pi/2
		ccx := cx + math.Cos(angle)*cfg.ClusterDistance
		ccy := cy + math.Sin(angle)*cfg.ClusterDistance
		g.Clusters = append(g.Clusters, Cluster{SubjectID: subject, X: ccx, Y: ccy, Angle: angle})

		members := groups[subject]
		for i, n := range members {
			node := Node{NoteID: n.ID, SubjectID: subject, Label: Label(n.Title)}
			if i == 0 {
				node.X, node.Y, node.Radius, node.Hub = ccx, ccy, cfg.HubRadius, true
			} else {
				ring := (i - 1) / perRing
				slot := (i - 1) % perRing
				onRing := min(perRing, len(members)-1-ring*perRing)
				orbit := firstOrbit + float64(ring)*orbitSpacing
				theta := 2 * math.Pi * float64(slot) / float64(onRing)
				node.X = ccx + math.Cos(theta)*orbit
				node.Y = ccy + math.Sin(theta)*orbit
				node.Radius = cfg.LeafRadius
			}
			if placed[n.ID] {
				continue
			}
			placed[n.ID] = true
			g.Nodes = append(g.Nodes, node)
		}
	}

	for _, l := range links {
		if placed[l.SourceID] && placed[l.TargetID] {
			g.Edges = append(g.Edges, Edge{LinkID: l.ID, SourceID: l.SourceID, TargetID: l.TargetID, Type: l.Type, Strength: l.Strength})
		}
	}
	return g
}

// Label truncates title to LabelRunes runes, ending in "…" when cut.
func Label(title string) string {
	r := []rune(title)
	if len(r) <= LabelRunes {
		return title
	}
	return string(r[:LabelRunes-1]) + "…"
}
