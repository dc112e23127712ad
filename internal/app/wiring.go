package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/justme409/aiprojectengineerv3/internal/assetstore"
	"github.com/justme409/aiprojectengineerv3/internal/checkpoint"
	"github.com/justme409/aiprojectengineerv3/internal/config"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/docfetch"
	"github.com/justme409/aiprojectengineerv3/internal/llm"
	"github.com/justme409/aiprojectengineerv3/internal/pipeline"
)

// mockCollaborators keeps handles on the in-memory doubles so mock runs can
// be seeded and inspected.
type mockCollaborators struct {
	assets  *assetstore.MemStore
	fetcher *docfetch.MemFetcher
}

// wireCollaborators builds the pipeline dependencies. Mock mode swaps every
// external system for an in-memory double so a run works without Postgres,
// S3 or model credentials.
func wireCollaborators(ctx context.Context, cfg *config.Config, opts *Options) (pipeline.Deps, checkpoint.Store, *mockCollaborators, error) {
	logger := ctxlog.FromContext(ctx)

	if cfg.MockMode {
		logger.Info("Mock mode enabled, using in-memory collaborators.")
		assets := assetstore.NewMemStore()
		fetcher := docfetch.NewMemFetcher()
		if opts.ProjectID != "" {
			assets.AddProject(opts.ProjectID, uuid.NewString())
			for _, docID := range opts.DocumentIDs {
				fetcher.Put(pipeline.BlobKey(opts.ProjectID, docID), []byte(mockDocumentText(docID)))
			}
		}
		deps := pipeline.Deps{
			LLM:         llm.NewStaticClient(mockResponses(), ""),
			Fetcher:     fetcher,
			Assets:      assets,
			Concurrency: cfg.Concurrency,
		}
		return deps, checkpoint.NewMemStore(), &mockCollaborators{assets: assets, fetcher: fetcher}, nil
	}

	if cfg.Database == nil || cfg.Database.URL == "" {
		return pipeline.Deps{}, nil, nil, fmt.Errorf("database configuration is required outside mock mode")
	}
	if cfg.Blob == nil || cfg.Blob.Bucket == "" {
		return pipeline.Deps{}, nil, nil, fmt.Errorf("blob configuration is required outside mock mode")
	}
	if cfg.LLM == nil {
		return pipeline.Deps{}, nil, nil, fmt.Errorf("llm configuration is required outside mock mode")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return pipeline.Deps{}, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return pipeline.Deps{}, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	fetcher, err := docfetch.NewS3Fetcher(ctx, cfg.Blob.Bucket, cfg.Blob.Region)
	if err != nil {
		return pipeline.Deps{}, nil, nil, err
	}

	model, err := llm.NewOpenAI(cfg.LLM.Model)
	if err != nil {
		return pipeline.Deps{}, nil, nil, err
	}

	deps := pipeline.Deps{
		LLM:         model,
		Fetcher:     fetcher,
		Assets:      assetstore.NewPGStore(db),
		Concurrency: cfg.Concurrency,
	}
	return deps, checkpoint.NewPGStore(db), nil, nil
}
