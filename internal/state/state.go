// Package state defines the shared run state threaded through every pipeline
// stage, and the single typed merge that enforces the append-vs-overwrite
// rule: accumulator fields only grow, scalar fields are last-writer-wins.
package state

import (
	"strings"

	"github.com/justme409/aiprojectengineerv3/internal/asset"
)

// Document is one source document with its extracted text content.
type Document struct {
	ID          string         `json:"id"`
	FileName    string         `json:"file_name"`
	Content     string         `json:"content"`
	ProjectID   string         `json:"project_id"`
	BlobURL     string         `json:"blob_url,omitempty"`
	StoragePath string         `json:"storage_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FailedDocument records a per-document extraction failure without aborting
// the owning stage.
type FailedDocument struct {
	ID       string `json:"id"`
	FileName string `json:"file_name,omitempty"`
	Error    string `json:"error"`
}

// Standard is one technical standard referenced by the project documents.
type Standard struct {
	Code             string   `json:"standard_code"`
	Name             string   `json:"spec_name,omitempty"`
	Organization     string   `json:"org_identifier,omitempty"`
	SectionReference string   `json:"section_reference,omitempty"`
	Context          string   `json:"context,omitempty"`
	DocumentIDs      []string `json:"document_ids,omitempty"`
}

// Error kinds recorded on StageError.
const (
	KindCollaborator = "collaborator"
	KindValidation   = "validation"
	KindPersistence  = "persistence"
	KindCanceled     = "canceled"
)

// StageError is one structured failure record. Errors accumulate as
// (stage, kind, message) tuples and are rendered to a human string only at
// the presentation boundary.
type StageError struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RenderErrors flattens structured stage errors into one human-readable
// string for the run's Error field.
func RenderErrors(errs []StageError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Stage+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// State is the shared run state. Slice fields are accumulators (append-only
// across stages, in execution order); everything else is a scalar owned by
// exactly one stage. Mutate only through Apply.
type State struct {
	ProjectID   string   `json:"project_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`

	// Accumulators.
	Documents        []Document        `json:"documents,omitempty"`
	FailedDocuments  []FailedDocument  `json:"failed_documents,omitempty"`
	DocumentMetadata []map[string]any  `json:"document_metadata,omitempty"`
	Standards        []Standard        `json:"standards,omitempty"`
	GeneratedPlans   []map[string]any  `json:"generated_plans,omitempty"`
	GeneratedITPs    []map[string]any  `json:"generated_itps,omitempty"`
	AssetSpecs       []asset.WriteSpec `json:"asset_specs,omitempty"`
	EdgeSpecs        []asset.EdgeSpec  `json:"edge_specs,omitempty"`
	StageErrors      []StageError      `json:"stage_errors,omitempty"`

	// Scalars.
	ProjectDetails    map[string]any `json:"project_details,omitempty"`
	WBSStructure      map[string]any `json:"wbs_structure,omitempty"`
	MappingContent    map[string]any `json:"mapping_content,omitempty"`
	ExtractionSummary map[string]any `json:"summary,omitempty"`
	Error             string         `json:"error,omitempty"`
	Done              bool           `json:"done"`
	Failed            bool           `json:"failed"`
}

// Delta is the partial update a stage returns. Slice fields append to the
// matching accumulator; map fields replace the matching scalar when non-nil;
// pointer fields replace the matching scalar when set.
type Delta struct {
	Documents        []Document
	FailedDocuments  []FailedDocument
	DocumentMetadata []map[string]any
	Standards        []Standard
	GeneratedPlans   []map[string]any
	GeneratedITPs    []map[string]any
	AssetSpecs       []asset.WriteSpec
	EdgeSpecs        []asset.EdgeSpec
	StageErrors      []StageError

	ProjectDetails    map[string]any
	WBSStructure      map[string]any
	MappingContent    map[string]any
	ExtractionSummary map[string]any
	Error             *string
	Done              *bool
	Failed            *bool
}

// Bool returns a pointer for a Delta scalar field.
func Bool(v bool) *bool { return &v }

// String returns a pointer for a Delta scalar field.
func String(v string) *string { return &v }

// New creates a fresh run state from caller-supplied input, with all
// accumulators empty and done=false.
func New(projectID string, documentIDs []string) *State {
	return &State{
		ProjectID:   projectID,
		DocumentIDs: append([]string(nil), documentIDs...),
	}
}

// Apply merges a stage's partial output into the state. Accumulators are
// appended to, never replaced; scalars are overwritten only when the delta
// sets them. A nil delta is a no-op.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}
	s.Documents = append(s.Documents, d.Documents...)
	s.FailedDocuments = append(s.FailedDocuments, d.FailedDocuments...)
	s.DocumentMetadata = append(s.DocumentMetadata, d.DocumentMetadata...)
	s.Standards = append(s.Standards, d.Standards...)
	s.GeneratedPlans = append(s.GeneratedPlans, d.GeneratedPlans...)
	s.GeneratedITPs = append(s.GeneratedITPs, d.GeneratedITPs...)
	s.AssetSpecs = append(s.AssetSpecs, d.AssetSpecs...)
	s.EdgeSpecs = append(s.EdgeSpecs, d.EdgeSpecs...)
	s.StageErrors = append(s.StageErrors, d.StageErrors...)

	if d.ProjectDetails != nil {
		s.ProjectDetails = d.ProjectDetails
	}
	if d.WBSStructure != nil {
		s.WBSStructure = d.WBSStructure
	}
	if d.MappingContent != nil {
		s.MappingContent = d.MappingContent
	}
	if d.ExtractionSummary != nil {
		s.ExtractionSummary = d.ExtractionSummary
	}
	if d.Error != nil {
		s.Error = *d.Error
	}
	if d.Done != nil {
		s.Done = *d.Done
	}
	if d.Failed != nil {
		s.Failed = *d.Failed
	}
}

// Clone returns a deep copy. Checkpoint snapshots and published run views
// never alias the working state.
func (s *State) Clone() *State {
	c := *s
	c.DocumentIDs = append([]string(nil), s.DocumentIDs...)
	c.Documents = cloneDocuments(s.Documents)
	c.FailedDocuments = append([]FailedDocument(nil), s.FailedDocuments...)
	c.DocumentMetadata = cloneMapSlice(s.DocumentMetadata)
	c.Standards = cloneStandards(s.Standards)
	c.GeneratedPlans = cloneMapSlice(s.GeneratedPlans)
	c.GeneratedITPs = cloneMapSlice(s.GeneratedITPs)
	c.AssetSpecs = cloneSpecs(s.AssetSpecs)
	c.EdgeSpecs = cloneEdgeSpecs(s.EdgeSpecs)
	c.StageErrors = append([]StageError(nil), s.StageErrors...)
	c.ProjectDetails = cloneMap(s.ProjectDetails)
	c.WBSStructure = cloneMap(s.WBSStructure)
	c.MappingContent = cloneMap(s.MappingContent)
	c.ExtractionSummary = cloneMap(s.ExtractionSummary)
	return &c
}

func cloneDocuments(in []Document) []Document {
	if in == nil {
		return nil
	}
	out := make([]Document, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Metadata = cloneMap(d.Metadata)
	}
	return out
}

func cloneMapSlice(in []map[string]any) []map[string]any {
	if in == nil {
		return nil
	}
	out := make([]map[string]any, len(in))
	for i, m := range in {
		out[i] = cloneMap(m)
	}
	return out
}

func cloneStandards(in []Standard) []Standard {
	if in == nil {
		return nil
	}
	out := make([]Standard, len(in))
	for i, s := range in {
		out[i] = s
		out[i].DocumentIDs = append([]string(nil), s.DocumentIDs...)
	}
	return out
}

func cloneSpecs(in []asset.WriteSpec) []asset.WriteSpec {
	if in == nil {
		return nil
	}
	out := make([]asset.WriteSpec, len(in))
	for i, sp := range in {
		out[i] = sp
		out[i].Metadata = cloneMap(sp.Metadata)
		out[i].Content = cloneMap(sp.Content)
		out[i].Edges = cloneEdgeSpecs(sp.Edges)
	}
	return out
}

func cloneEdgeSpecs(in []asset.EdgeSpec) []asset.EdgeSpec {
	if in == nil {
		return nil
	}
	out := make([]asset.EdgeSpec, len(in))
	for i, e := range in {
		out[i] = e
		out[i].Properties = cloneMap(e.Properties)
	}
	return out
}

// cloneMap deep-copies one level and recurses into nested maps and slices,
// which is as deep as checkpointed payloads nest in practice.
func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = cloneMap(m)
		}
		return out
	default:
		return v
	}
}
