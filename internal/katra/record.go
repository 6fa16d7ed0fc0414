// Package katra defines the canonical MemoryRecord and the shared
// contracts (such as EdgeType) used by every storage tier and backend;
// the graph's Node and Edge types live in internal/graph. It is the
// leaf of the dependency graph: every other katra package imports this one,
// this one imports nothing domain-specific.
package katra

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// MaxContent bounds the primary text payload of a record, sized
// generously so that ingested conversation turns are not truncated.
const MaxContent = 32 * 1024

// Type classifies a memory and controls its default consolidation weight.
type Type string

const (
	TypeExperience  Type = "EXPERIENCE"
	TypeReflection  Type = "REFLECTION"
	TypeKnowledge   Type = "KNOWLEDGE"
	TypeDecision    Type = "DECISION"
	TypeGoal        Type = "GOAL"
	TypeInteraction Type = "INTERACTION"
)

func (t Type) Valid() bool {
	switch t {
	case TypeExperience, TypeReflection, TypeKnowledge, TypeDecision, TypeGoal, TypeInteraction:
		return true
	}
	return false
}

// Isolation is the access-control class of a record.
type Isolation string

const (
	IsolationPrivate Isolation = "PRIVATE"
	IsolationTeam    Isolation = "TEAM"
	IsolationPublic  Isolation = "PUBLIC"
)

func (i Isolation) Valid() bool {
	switch i {
	case IsolationPrivate, IsolationTeam, IsolationPublic:
		return true
	}
	return false
}

// Tier names the storage age of a record: 1 raw, 2 digested, 3 pattern.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// MemoryRecord is the single currency of the engine.
type MemoryRecord struct {
	RecordID string `json:"record_id"`
	CIID     string `json:"ci_id"`
	Timestamp int64 `json:"timestamp"`
	Type      Type  `json:"type"`
	Importance float64 `json:"importance"`

	Content  string `json:"content"`
	Response string `json:"response,omitempty"`
	Context  string `json:"context,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	Tier     Tier `json:"tier"`
	Archived bool `json:"archived"`

	Isolation   Isolation `json:"isolation"`
	TeamName    string    `json:"team_name,omitempty"`
	SharedWith  []string  `json:"shared_with,omitempty"`

	EmotionIntensity float64 `json:"emotion_intensity,omitempty"`
	EmotionType      string  `json:"emotion_type,omitempty"`

	MarkedImportant   bool `json:"marked_important,omitempty"`
	MarkedForgettable bool `json:"marked_forgettable,omitempty"`

	AccessCount  int64 `json:"access_count,omitempty"`
	LastAccessed int64 `json:"last_accessed,omitempty"`

	GraphCentrality float64 `json:"graph_centrality,omitempty"`
	ConnectionCount int     `json:"connection_count,omitempty"`

	ContextQuestion    string `json:"context_question,omitempty"`
	ContextResolution  string `json:"context_resolution,omitempty"`
	ContextUncertainty string `json:"context_uncertainty,omitempty"`

	RelatedTo string `json:"related_to,omitempty"`

	Collection string   `json:"collection,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// CreateOptions holds the required and optional fields for Create.
type CreateOptions struct {
	CIID       string
	Type       Type
	Content    string
	Importance float64

	Response           string
	Context            string
	SessionID          string
	Isolation          Isolation
	TeamName           string
	SharedWith         []string
	EmotionIntensity   float64
	EmotionType        string
	ContextQuestion    string
	ContextResolution  string
	ContextUncertainty string
	RelatedTo          string
	Collection         string
	Tags               []string
	Timestamp          int64 // 0 means "now"
}

// Create builds a new MemoryRecord via the record factory, applying
// invariants: clamped scores, tier/archived defaults, isolation default,
// and TEAM requiring a non-empty team_name.
func Create(opts CreateOptions) (*MemoryRecord, error) {
	if strings.TrimSpace(opts.CIID) == "" {
		return nil, katraerr.InvalidParams("ci_id is required")
	}
	if strings.TrimSpace(opts.Content) == "" {
		return nil, katraerr.InvalidParams("content is required")
	}
	if len(opts.Content) > MaxContent {
		return nil, katraerr.TooLarge("content exceeds MAX_CONTENT")
	}
	if !opts.Type.Valid() {
		return nil, katraerr.InvalidParams("unknown memory type: " + string(opts.Type))
	}

	isolation := opts.Isolation
	if isolation == "" {
		isolation = IsolationPrivate
	}
	if !isolation.Valid() {
		return nil, katraerr.InvalidParams("unknown isolation: " + string(isolation))
	}
	if isolation == IsolationTeam && strings.TrimSpace(opts.TeamName) == "" {
		return nil, katraerr.InvalidParams("team_name is required when isolation=TEAM")
	}

	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	r := &MemoryRecord{
		RecordID:           uuid.New().String(),
		CIID:               opts.CIID,
		Timestamp:          ts,
		Type:               opts.Type,
		Importance:         clamp01(opts.Importance),
		Content:            opts.Content,
		Response:           opts.Response,
		Context:            opts.Context,
		SessionID:          opts.SessionID,
		Tier:               Tier1,
		Archived:           false,
		Isolation:          isolation,
		TeamName:           opts.TeamName,
		SharedWith:         append([]string(nil), opts.SharedWith...),
		EmotionIntensity:   clamp01(opts.EmotionIntensity),
		EmotionType:        opts.EmotionType,
		ContextQuestion:    opts.ContextQuestion,
		ContextResolution:  opts.ContextResolution,
		ContextUncertainty: opts.ContextUncertainty,
		RelatedTo:          opts.RelatedTo,
		Collection:         opts.Collection,
		Tags:               normalizeTags(opts.Tags),
	}
	return r, nil
}

// clamp01 enforces invariant 3: importance, emotion_intensity and
// graph_centrality are clamped to [0,1] at every mutation.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampScores re-applies invariant 3 to a record that is about to be
// mutated in place (consolidation, centrality recompute).
func (r *MemoryRecord) ClampScores() {
	r.Importance = clamp01(r.Importance)
	r.EmotionIntensity = clamp01(r.EmotionIntensity)
	r.GraphCentrality = clamp01(r.GraphCentrality)
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Touch records an access, bumping access_count and last_accessed. This
// feeds consolidation's access-based decay rule.
func (r *MemoryRecord) Touch(now time.Time) {
	r.AccessCount++
	r.LastAccessed = now.Unix()
}

// IsSharedWith reports whether ciID is in the record's explicit grant set.
func (r *MemoryRecord) IsSharedWith(ciID string) bool {
	for _, id := range r.SharedWith {
		if id == ciID {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy safe to mutate without aliasing the
// original's slices.
func (r *MemoryRecord) Clone() *MemoryRecord {
	c := *r
	c.SharedWith = append([]string(nil), r.SharedWith...)
	c.Tags = append([]string(nil), r.Tags...)
	return &c
}
