package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/spf13/viper"

	"docqa/src/core/answer"
	"docqa/src/core/index"
	"docqa/src/core/ingestion"
	"docqa/src/core/rag"
	"docqa/src/core/retrieval"
	"docqa/src/infrastructure/catalog"
	"docqa/src/infrastructure/events"
	"docqa/src/infrastructure/integrations/bedrock"
	"docqa/src/infrastructure/integrations/ollama"
	"docqa/src/infrastructure/integrations/unstructured"
	"docqa/src/log"
	"docqa/src/storage/minioctrl"
	"docqa/src/storage/sqlitetable"
)

const (
	defaultOllamaEmbeddingModel = "nomic-embed-text"
	defaultOllamaTextModel      = "phi4"
)

// app holds the collaborators shared by the commands. close releases whatever was opened.
type app struct {
	registry *index.Registry
	store    *minioctrl.Store
	catalog  catalog.Repository
	events   *events.Publisher
	closers  []func() error

	// ephemeralCatalog is set when the catalog lives only as long as this process.
	ephemeralCatalog bool
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error(err, "failed to release resource")
		}
	}
}

func durationOf(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		log.Error(err, "Invalid duration, using default", "key", key, "default", fallback)
		return fallback
	}
	return d
}

func newApp(ctx context.Context, withEvents bool) (*app, error) {
	a := &app{}

	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}
	a.registry = registry

	store, err := minioctrl.NewStore(minioctrl.Config{
		Endpoint:  viper.GetString("minio.endpoint"),
		AccessKey: viper.GetString("minio.access_key"),
		SecretKey: viper.GetString("minio.secret_key"),
		UseSSL:    viper.GetBool("minio.use_ssl"),
		Region:    viper.GetString("minio.region"),
		Bucket:    viper.GetString("minio.bucket"),
	}, log.Logger())
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	a.store = store

	repo, err := a.openCatalog()
	if err != nil {
		a.close()
		return nil, err
	}
	a.catalog = repo

	if withEvents && viper.GetBool("events.enabled") {
		pub, err := events.NewAMQPPublisher(viper.GetString("amqp.url"), watermill.NewStdLogger(false, false))
		if err != nil {
			a.close()
			return nil, err
		}
		a.events = events.NewPublisher(pub, viper.GetString("events.topic"))
		a.closers = append(a.closers, a.events.Close)
	}

	return a, nil
}

func (a *app) openCatalog() (catalog.Repository, error) {
	switch driver := viper.GetString("catalog.driver"); driver {
	case "memory":
		log.Info("Using in-memory snapshot catalog; records are lost on exit")
		a.ephemeralCatalog = true
		return catalog.NewMemoryRepository(), nil
	case "postgres", "":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			viper.GetString("postgres.host"),
			viper.GetString("postgres.user"),
			viper.GetString("postgres.password"),
			viper.GetString("postgres.db"),
			viper.GetString("postgres.port"))
		db, err := catalog.OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		return catalog.NewPostgresRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", driver)
	}
}

func newRegistry() (*index.Registry, error) {
	table, err := sqlitetable.NewStrategy(viper.GetString("index.table_name"))
	if err != nil {
		return nil, err
	}
	return index.NewRegistry(index.NewFlatStrategy(), table), nil
}

func newEmbedder() (rag.Embedder, error) {
	model := viper.GetString("embedding.model")
	timeout := durationOf("embedding.timeout", 30*time.Second)

	switch provider := viper.GetString("embedding.provider"); provider {
	case "ollama":
		if model == "" {
			model = defaultOllamaEmbeddingModel
		}
		client := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{})
		return ollama.NewEmbedder(client, model, timeout), nil
	case "bedrock":
		return bedrock.NewEmbedder(model, timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

func newGenerator() (rag.Generator, error) {
	model := viper.GetString("llm.model")
	maxTokens := viper.GetInt("llm.max_tokens")
	timeout := durationOf("llm.timeout", 2*time.Minute)

	switch provider := viper.GetString("llm.provider"); provider {
	case "ollama":
		if model == "" {
			model = defaultOllamaTextModel
		}
		client := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{})
		var options map[string]interface{}
		if maxTokens > 0 {
			options = map[string]interface{}{"num_predict": maxTokens}
		}
		return ollama.NewGenerator(client, model, options, timeout), nil
	case "bedrock":
		return bedrock.NewGenerator(model, maxTokens, timeout)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// embeddingDimension returns the configured dimension. Zero means infer it from the first
// embedding, except for the default bedrock model whose length is known.
func embeddingDimension(provider, model string, configured int) int {
	if configured == 0 && provider == "bedrock" && (model == "" || model == bedrock.DefaultEmbeddingModel) {
		return bedrock.DefaultDimension
	}
	return configured
}

// newPipeline builds the ingestion pipeline for the configured backend. onEmbedded may be nil.
func (a *app) newPipeline(embedder rag.Embedder, onEmbedded func(done, total int)) (*ingestion.Pipeline, error) {
	strategy, err := a.registry.Get(viper.GetString("index.backend"))
	if err != nil {
		return nil, err
	}
	metric, err := index.ParseMetric(viper.GetString("index.metric"))
	if err != nil {
		return nil, err
	}

	deps := ingestion.Deps{
		Embedder:   embedder,
		Strategy:   strategy,
		Store:      a.store,
		Catalog:    a.catalog,
		OnEmbedded: onEmbedded,
	}
	if a.events != nil {
		deps.Events = a.events
	}
	switch converter := viper.GetString("loader.pdf_converter"); converter {
	case "builtin", "":
	case "unstructured":
		deps.PDFConverter = unstructured.NewClient(viper.GetString("unstructured.url"), &http.Client{})
	default:
		return nil, fmt.Errorf("unknown pdf converter %q", converter)
	}

	return ingestion.NewPipeline(ingestion.Config{
		ChunkSize:     viper.GetInt("chunk.size"),
		ChunkOverlap:  viper.GetInt("chunk.overlap"),
		ChunkStrategy: viper.GetString("chunk.strategy"),
		Dimension:     embeddingDimension(viper.GetString("embedding.provider"), viper.GetString("embedding.model"), viper.GetInt("embedding.dimension")),
		Metric:        metric,
		Workers:       viper.GetInt("embedding.workers"),
		Append:        viper.GetBool("index.append"),
	}, deps, log.Logger())
}

func (a *app) newSnapshotLoader() *retrieval.SnapshotLoader {
	return retrieval.NewSnapshotLoader(a.store, a.registry, a.catalog, log.Logger())
}

// openSnapshot opens requestID, or the latest published snapshot when requestID is empty.
func (a *app) openSnapshot(ctx context.Context, requestID string) (*retrieval.Snapshot, error) {
	if requestID == "" && a.ephemeralCatalog {
		return nil, fmt.Errorf("%w: the memory catalog starts empty in every process; pass --snapshot <request id>", rag.ErrInvalidRequest)
	}
	loader := a.newSnapshotLoader()
	if requestID == "" {
		return loader.Latest(ctx)
	}
	return loader.Open(ctx, requestID)
}

func newAnswerService(embedder rag.Embedder) (*answer.Service, error) {
	generator, err := newGenerator()
	if err != nil {
		return nil, err
	}
	retriever := retrieval.NewRetriever(embedder, viper.GetInt("query.top_k"))
	return answer.NewService(generator, retriever, log.Logger()), nil
}
