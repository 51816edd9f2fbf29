package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/namtroi/ragbase/internal/domain/ingest"
	"github.com/namtroi/ragbase/internal/infra/config"
	"github.com/namtroi/ragbase/internal/infra/ingest/blobstore"
	"github.com/namtroi/ragbase/internal/infra/ingest/chunker"
	"github.com/namtroi/ragbase/internal/infra/ingest/converter"
	"github.com/namtroi/ragbase/internal/infra/ingest/embedder"
	"github.com/namtroi/ragbase/internal/infra/ingest/eventbus"
	"github.com/namtroi/ragbase/internal/infra/ingest/jobqueue"
	"github.com/namtroi/ragbase/internal/infra/ingest/store"
	"github.com/namtroi/ragbase/internal/infra/ingest/worker"
	"github.com/namtroi/ragbase/internal/infra/llm/chatgpt"
	httpiface "github.com/namtroi/ragbase/internal/interface/http"
)

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
}

// provideIngestPostgresPool opens the pgvector-aware pool backing the
// ingestion store, returning nil when no DSN is configured so callers fall
// back to the in-memory store, grounded on the teacher's uploadPostgresPool
// fallback idiom in the pre-rewrite providers.go.
func provideIngestPostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	dsn := strings.TrimSpace(cfg.Ingestion.Postgres.DSN)
	if dsn == "" {
		logger.Info("ingestion postgres dsn not set, using memory store")
		return nil
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid ingestion postgres dsn, using memory store", "error", err)
		return nil
	}
	registerPgVector(poolConfig, logger)
	if cfg.Ingestion.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Ingestion.Postgres.MaxConns
	}
	if cfg.Ingestion.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Ingestion.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize ingestion postgres pool, using memory store", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("ingestion postgres ping failed, using memory store", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("ingestion postgres store enabled")
	return pool
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}

// provideIngestStore picks Postgres when a DSN is configured and falls back
// to the in-memory store otherwise, mirroring the FAQ/uploadask repository
// fallback shape from the pre-rewrite providers.go.
func provideIngestStore(pool *pgxpool.Pool, logger *slog.Logger) ingest.Store {
	if pool != nil {
		return store.NewPostgres(pool)
	}
	logger.Warn("ingestion store falling back to memory")
	return store.NewMemory()
}

func provideEventBus(cfg *config.Config, logger *slog.Logger) ingest.EventBus {
	return eventbus.New(cfg.Ingestion.EventBus.SubscriberBuffer, logger)
}

func provideBlobStore(cfg *config.Config, logger *slog.Logger) ingest.BlobStore {
	endpoint := strings.TrimSpace(cfg.Ingestion.Storage.Endpoint)
	accessKey := strings.TrimSpace(cfg.Ingestion.Storage.AccessKey)
	secretKey := strings.TrimSpace(cfg.Ingestion.Storage.SecretKey)
	bucket := strings.TrimSpace(cfg.Ingestion.Storage.Bucket)
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("ingestion blob storage not fully configured, using memory blobstore")
		return blobstore.NewMemory()
	}
	r2, err := blobstore.NewR2(endpoint, accessKey, secretKey, bucket, cfg.Ingestion.Storage.Region, logger)
	if err != nil {
		logger.Error("failed to initialize r2 blobstore, using memory blobstore", "error", err)
		return blobstore.NewMemory()
	}
	logger.Info("ingestion r2 blobstore enabled", "endpoint", endpoint, "bucket", bucket)
	return r2
}

func provideJobQueue(cfg *config.Config, logger *slog.Logger) ingest.JobQueue {
	queueCfg := jobqueue.DefaultConfig()
	queueCfg.Concurrency = cfg.Ingestion.JobQueue.Concurrency
	queueCfg.RetryBudget = cfg.Ingestion.JobQueue.RetryBudget
	queueCfg.BaseBackoff = cfg.Ingestion.JobQueue.BaseBackoff
	queueCfg.LeaseTimeout = cfg.Ingestion.JobQueue.LeaseTimeout
	if cfg.Ingestion.Valkey.Enabled {
		opt, err := buildValkeyOptions(cfg.Ingestion.Valkey.Addr)
		if err != nil {
			logger.Error("invalid ingestion valkey configuration, falling back to memory queue", "error", err)
			return jobqueue.NewMemoryQueue(queueCfg, logger)
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			logger.Error("failed to create ingestion valkey client, falling back to memory queue", "error", err)
			return jobqueue.NewMemoryQueue(queueCfg, logger)
		}
		logger.Info("ingestion valkey job queue enabled", "addr", cfg.Ingestion.Valkey.Addr)
		return jobqueue.NewValkeyQueue(client, queueCfg, logger)
	}
	return jobqueue.NewMemoryQueue(queueCfg, logger)
}

func provideChunker() ingest.Chunker {
	return chunker.NewHeading(800)
}

func provideEmbedder(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) ingest.Embedder {
	model := strings.TrimSpace(cfg.LLM.EmbeddingModel)
	if client != nil && model != "" {
		return embedder.NewChatGPT(client, model, cfg.Ingestion.VectorDim, logger)
	}
	logger.Warn("ingestion embedding client unavailable, using deterministic embedder")
	return embedder.NewDeterministic(cfg.Ingestion.VectorDim)
}

func provideConverter() ingest.Converter {
	return converter.New()
}

func provideCoordinatorConfig(cfg *config.Config) ingest.CoordinatorConfig {
	base := ingest.DefaultCoordinatorConfig()
	base.MaxManualBytes = int64(cfg.Ingestion.MaxFileMBManual) * 1024 * 1024
	base.MaxExternalBytes = int64(cfg.Ingestion.MaxFileMBExternal) * 1024 * 1024
	base.BulkDeleteCap = cfg.Ingestion.BulkDeleteCap
	if len(cfg.Ingestion.AllowedFormats) > 0 {
		base.AllowedFormats = toFormatSet(cfg.Ingestion.AllowedFormats)
	}
	if len(cfg.Ingestion.FastLaneFormats) > 0 {
		base.FastLaneFormats = toFormatSet(cfg.Ingestion.FastLaneFormats)
	}
	if len(cfg.Ingestion.HeavyLaneFormats) > 0 {
		base.HeavyLaneFormats = toFormatSet(cfg.Ingestion.HeavyLaneFormats)
	}
	return base
}

func toFormatSet(formats []string) map[string]bool {
	set := make(map[string]bool, len(formats))
	for _, f := range formats {
		set[strings.ToUpper(f)] = true
	}
	return set
}

func provideSearchConfig(cfg *config.Config) ingest.SearchConfig {
	base := ingest.DefaultSearchConfig()
	if cfg.Ingestion.DefaultSearchTopK > 0 {
		base.DefaultTopK = cfg.Ingestion.DefaultSearchTopK
	}
	if cfg.Ingestion.DefaultAlpha > 0 {
		base.DefaultAlpha = cfg.Ingestion.DefaultAlpha
	}
	return base
}

func provideProfileRegistry(ingestStore ingest.Store, bus ingest.EventBus, cfg *config.Config, logger *slog.Logger) *ingest.ProfileRegistry {
	retry := cfg.Ingestion.ProfileVersionRetry
	if retry <= 0 {
		retry = 20
	}
	return ingest.NewProfileRegistry(ingestStore, bus, retry, logger)
}

func provideCoordinator(cfg ingest.CoordinatorConfig, ingestStore ingest.Store, bus ingest.EventBus, queue ingest.JobQueue, blobs ingest.BlobStore, chunker ingest.Chunker, embedder ingest.Embedder, converter ingest.Converter, profiles *ingest.ProfileRegistry, logger *slog.Logger) *ingest.Coordinator {
	return ingest.NewCoordinator(cfg, ingestStore, bus, queue, blobs, chunker, embedder, converter, profiles, logger)
}

func provideSearchGateway(cfg ingest.SearchConfig, ingestStore ingest.Store, embedder ingest.Embedder, logger *slog.Logger) *ingest.SearchGateway {
	return ingest.NewSearchGateway(cfg, ingestStore, embedder, logger)
}

// provideWorkerDispatcher installs the external worker-pool HTTP dispatcher as
// the job queue's handler, grounded on the teacher's provideUploadService
// queue.SetHandler wiring in the pre-rewrite providers.go. The coordinator
// dependency only orders construction after the queue exists; the dispatcher
// itself is stateless with respect to it.
func provideWorkerDispatcher(cfg *config.Config, queue ingest.JobQueue, _ *ingest.Coordinator) *worker.Dispatcher {
	dispatcher := worker.New(worker.Config{
		DispatchURL: cfg.Ingestion.Worker.DispatchURL,
		CallbackURL: cfg.Ingestion.Worker.CallbackURL,
		Timeout:     cfg.Ingestion.Worker.Timeout,
	})
	queue.SetHandler(dispatcher.Handle)
	return dispatcher
}

func provideIngestHandler(coordinator *ingest.Coordinator, profiles *ingest.ProfileRegistry, search *ingest.SearchGateway, ingestStore ingest.Store, bus ingest.EventBus, logger *slog.Logger) *httpiface.IngestHandler {
	return httpiface.NewIngestHandler(coordinator, profiles, search, ingestStore, bus, logger)
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}
