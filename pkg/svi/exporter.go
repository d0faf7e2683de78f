package svi

import (
	"io"
	"path/filepath"

	"github.com/allenv5/sviamp/pkg/export"
	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/sample"
	"github.com/allenv5/sviamp/pkg/snapshot"
)

// Checkpoint is the read-only view handed to exporters.
type Checkpoint struct {
	Iteration    int
	Final        bool
	Dir          string
	Network      Network
	State        *model.State
	Pi           [][]float64
	Sets         *sample.Sets
	HeldoutNodes []snapshot.HeldoutNode
}

// Exporter persists results at checkpoints. Implementations must not modify
// the checkpoint.
type Exporter interface {
	Export(cp *Checkpoint) error
}

// ResultsExporter writes the model snapshot, groups, link communities, the
// community graph and the link ranking.
type ResultsExporter struct {
	TopN          int
	LinkThresh    float64
	LinkMinDegree int
}

func (x *ResultsExporter) Export(cp *Checkpoint) error {
	snap, err := cp.State.Snapshot()
	if err != nil {
		return err
	}
	if err := snapshot.Save(cp.Dir, cp.Network, snap, cp.HeldoutNodes); err != nil {
		return err
	}

	var g export.Graph = cp.Network
	path := func(name string) string { return filepath.Join(cp.Dir, name) }

	if err := snapshot.WriteFile(path("groups.txt"), func(w io.Writer) error {
		return export.WriteGroups(w, g, cp.Pi)
	}); err != nil {
		return err
	}

	links := export.AssignLinks(g, cp.State, cp.Pi)
	comms := export.Communities(g.Nodes(), links, x.LinkThresh, x.LinkMinDegree)
	if err := snapshot.WriteFile(path("communities.txt"), func(w io.Writer) error {
		return export.WriteCommunities(w, g, comms)
	}); err != nil {
		return err
	}
	if err := snapshot.WriteFile(path("network.dot"), func(w io.Writer) error {
		return export.WriteDOT(w, export.CommunityGraph(g, cp.State, cp.Pi, links))
	}); err != nil {
		return err
	}

	if cp.Sets.Precision.Len() == 0 {
		return nil
	}
	r := &export.Ranker{G: g, State: cp.State, Pi: cp.Pi, Sets: cp.Sets, TopN: x.TopN}
	return snapshot.WriteFile(path("ranking.tsv"), func(w io.Writer) error {
		_, err := r.Rank(w)
		return err
	})
}
