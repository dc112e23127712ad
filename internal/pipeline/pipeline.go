// Package pipeline defines the fixed extraction graph: which stages exist,
// what each one reads and writes on the shared state, and how failures route
// to finalization. Stage bodies talk to their collaborators only through the
// small interfaces in Deps, so tests run the whole graph with doubles.
package pipeline

import (
	"context"
	"fmt"

	"github.com/justme409/aiprojectengineerv3/internal/assetstore"
	"github.com/justme409/aiprojectengineerv3/internal/docfetch"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/llm"
	"github.com/justme409/aiprojectengineerv3/internal/state"
)

// Stage names, in execution order.
const (
	StageDocumentExtraction  = "document_extraction"
	StageVerifyDocuments     = "verify_documents"
	StageInspectionPause     = "inspection_pause"
	StageDocumentMetadata    = "document_metadata"
	StageProjectDetails      = "project_details"
	StageStandardsExtraction = "standards_extraction"
	StagePlanGeneration      = "plan_generation"
	StageWBSExtraction       = "wbs_extraction"
	StageLBSExtraction       = "lbs_extraction"
	StageITPGeneration       = "itp_generation"
	StagePersistAssets       = "persist_assets"
	StageFinalizeFailure     = "finalize_failure"
)

// Management plan types generated per project.
var planTypes = []string{"pqp", "emp", "ohsmp", "tmp"}

// Deps are the collaborators injected into stage bodies.
type Deps struct {
	LLM     llm.Client
	Fetcher docfetch.Fetcher
	Assets  assetstore.Store

	// Concurrency bounds per-document fan-out. Zero means 4.
	Concurrency int
}

// Options tune graph assembly.
type Options struct {
	// PauseForInspection inserts an interrupt stage after document
	// verification so a reviewer can inspect the extracted documents before
	// the model stages run.
	PauseForInspection bool
}

func (d Deps) concurrency() int {
	if d.Concurrency <= 0 {
		return 4
	}
	return d.Concurrency
}

// BuildGraph assembles and compiles the extraction pipeline.
func BuildGraph(deps Deps, opts Options) (*graph.Graph, error) {
	if deps.LLM == nil || deps.Fetcher == nil || deps.Assets == nil {
		return nil, fmt.Errorf("pipeline requires llm, fetcher and asset store collaborators")
	}

	afterVerify := StageDocumentMetadata
	metadataDep := StageVerifyDocuments
	if opts.PauseForInspection {
		afterVerify = StageInspectionPause
		metadataDep = StageInspectionPause
	}

	b := graph.NewBuilder()

	b.AddStage(graph.Stage{
		Name: StageDocumentExtraction,
		Run:  extractDocuments(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StageVerifyDocuments,
		DependsOn: []string{StageDocumentExtraction},
		Run:       verifyDocuments(),
	})
	b.AddRouter(StageVerifyDocuments, []string{afterVerify, StageFinalizeFailure}, failureRouter(afterVerify))

	if opts.PauseForInspection {
		b.AddStage(graph.Stage{
			Name:      StageInspectionPause,
			DependsOn: []string{StageVerifyDocuments},
			Run:       inspectionPause(deps),
		})
		b.MarkInterrupt(StageInspectionPause)
	}

	b.AddStage(graph.Stage{
		Name:      StageDocumentMetadata,
		DependsOn: []string{metadataDep},
		Run:       extractDocumentMetadata(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StageProjectDetails,
		DependsOn: []string{StageDocumentMetadata},
		Run:       extractProjectDetails(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StageStandardsExtraction,
		DependsOn: []string{StageProjectDetails},
		Run:       extractStandards(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StagePlanGeneration,
		DependsOn: []string{StageStandardsExtraction},
		Run:       generatePlans(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StageWBSExtraction,
		DependsOn: []string{StagePlanGeneration},
		Run:       extractWBS(deps),
	})
	b.AddRouter(StageWBSExtraction, []string{StageLBSExtraction, StageFinalizeFailure}, failureRouter(StageLBSExtraction))

	b.AddStage(graph.Stage{
		Name:      StageLBSExtraction,
		DependsOn: []string{StageWBSExtraction},
		Run:       extractLBS(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StageITPGeneration,
		DependsOn: []string{StageLBSExtraction},
		Run:       generateITPs(deps),
	})
	b.AddStage(graph.Stage{
		Name:      StagePersistAssets,
		DependsOn: []string{StageITPGeneration},
		Run:       persistAssets(deps),
	})
	b.AddRouter(StagePersistAssets, []string{StageFinalizeFailure}, failureRouter(graph.End))

	// Registered last so it sorts after every stage that can route to it.
	b.AddStage(graph.Stage{
		Name: StageFinalizeFailure,
		Run:  finalizeFailure(),
	})

	return b.Compile()
}

// failureRouter sends failed runs to finalization and everything else to the
// given successor.
func failureRouter(onSuccess string) graph.Router {
	return func(st *state.State) string {
		if st.Failed {
			return StageFinalizeFailure
		}
		return onSuccess
	}
}

// finalizeFailure renders the accumulated stage errors into the run's Error
// string and marks the run done.
func finalizeFailure() graph.Func {
	return func(_ context.Context, st *state.State) (*state.Delta, error) {
		return &state.Delta{
			Error:  state.String(state.RenderErrors(st.StageErrors)),
			Done:   state.Bool(true),
			Failed: state.Bool(true),
		}, nil
	}
}
