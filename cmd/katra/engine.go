package main

import (
	"fmt"

	"github.com/ckoons/katra-sub000/internal/access"
	"github.com/ckoons/katra-sub000/internal/consolidation"
	"github.com/ckoons/katra-sub000/internal/encoder"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/synthesis"
	"github.com/ckoons/katra-sub000/internal/tier1"
	"github.com/ckoons/katra-sub000/internal/tier2"
	"github.com/ckoons/katra-sub000/internal/tier3"
	"github.com/ckoons/katra-sub000/internal/vector"
	"github.com/ckoons/katra-sub000/pkg/config"
)

// engine bundles every constructed collaborator a command needs. Built
// once per invocation from cfg; closing it releases the Tier 2 SQLite
// handle.
type engine struct {
	cfg    *config.Config
	tier1  *tier1.Store
	tier2  *tier2.Store
	tier3  *tier3.Store
	vector *vector.Store
	enc    *encoder.Encoder
	synth  *synthesis.Synthesizer
	consol *consolidation.Engine
}

func buildEngine(cfg *config.Config) (*engine, error) {
	if err := cfg.EnsureStorageRoot(); err != nil {
		return nil, err
	}

	checker := access.NewChecker(nil)
	t1 := tier1.New(cfg.Storage.Root, checker)
	t2, err := tier2.Open(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("opening tier2: %w", err)
	}
	t3 := tier3.New(cfg.Storage.Root)
	vec := vector.New(cfg.Storage.Root, cfg.Vector.Dimension)
	vec.SetTokenBounds(cfg.Vector.MinTokenLength, cfg.Vector.MaxTokenLength, cfg.Vector.MaxTokens)
	cp := katra.NewCheckpointStore(cfg.Storage.Root)

	enc := encoder.New(t1, vec, checker, cfg.Vector.UseVectorSearch, true)
	synth := synthesis.New(t1, t2, vec, enc, checker)
	consol := consolidation.New(t1, t2, t3, vec, cp, consolidation.Config{
		CutoffDays:           cfg.Consolidation.CutoffDays,
		DecayWindow:          cfg.Consolidation.DecayWindow(),
		SalienceThreshold:    cfg.Consolidation.SalienceThreshold,
		HubThreshold:         cfg.Consolidation.HubThreshold,
		MinClusterSimilarity: cfg.Consolidation.MinClusterSimilarity,
		MinClusterSize:       cfg.Consolidation.MinClusterSize,
	})

	return &engine{cfg: cfg, tier1: t1, tier2: t2, tier3: t3, vector: vec, enc: enc, synth: synth, consol: consol}, nil
}

func (e *engine) Close() error {
	e.tier1.Close()
	return e.tier2.Close()
}
