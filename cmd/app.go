package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/decision"
	"github.com/sells-group/watchlist-screen/internal/fuzzy"
	"github.com/sells-group/watchlist-screen/internal/identifier"
	"github.com/sells-group/watchlist-screen/internal/linker"
	"github.com/sells-group/watchlist-screen/internal/refdata"
	"github.com/sells-group/watchlist-screen/internal/resilience"
	"github.com/sells-group/watchlist-screen/internal/screening"
	"github.com/sells-group/watchlist-screen/internal/search"
	"github.com/sells-group/watchlist-screen/internal/signals"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
	"github.com/sells-group/watchlist-screen/internal/store"
	"github.com/sells-group/watchlist-screen/internal/tierindex"
	"github.com/sells-group/watchlist-screen/internal/vector"
	"github.com/sells-group/watchlist-screen/pkg/embedclient"
)

// app holds the wired screening pipeline shared by commands.
type app struct {
	cfg      *config.Config
	store    store.Store
	snaps    *snapshot.Manager
	fuzzy    *fuzzy.Matcher
	fuser    *search.Fuser
	screener *screening.Screener
}

// initApp opens the store, assembles the pipeline and loads the first
// snapshot.
func initApp(ctx context.Context, c *config.Config) (*app, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	a, err := assemble(c, st, referenceLoader(c, st))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	snap, err := a.snaps.Reload(ctx)
	if err != nil {
		// screening still answers (degraded) until a reload succeeds
		zap.L().Warn("initial snapshot load failed", zap.Error(err))
	} else {
		zap.L().Info("snapshot loaded",
			zap.Uint64("version", snap.Version),
			zap.Int("entities", snap.Len()),
		)
	}
	return a, nil
}

// referenceLoader reads the configured reference source, or the store when
// none is set.
func referenceLoader(c *config.Config, st store.Store) snapshot.Loader {
	if c.Reference.Source == "" {
		return st
	}
	l := refdata.NewLoader(refdata.OptionsFromConfig(c.Reference, c.Resilience))
	return l.Bind(refdata.SplitSources(c.Reference.Source))
}

// assemble wires the pipeline without any I/O. st may be nil, which
// disables the audit log.
func assemble(c *config.Config, st store.Store, loader snapshot.Loader) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	emb, err := newEmbedder(c.Embedding, c.Resilience)
	if err != nil {
		return nil, err
	}

	mgr := snapshot.NewManager(loader, snapshot.BuildOptions{
		Generator: tierindex.BasicGenerator{},
		Embedder:  emb,
		Source:    c.Reference.Source,
	})

	fm := fuzzy.New(fuzzy.OptionsFromConfig(c.Fuzzy))
	var vm *vector.Matcher
	if emb != nil {
		vm = vector.NewMatcher(emb, vector.Options{
			MinScore: c.Search.VectorMinScore,
			TopK:     c.Search.VectorTopK,
		})
	}
	breakers := resilience.NewBreakers(resilience.BreakerFromConfig(c.Resilience))
	fuser := search.New(search.OptionsFromConfig(c.Search, c.Fuzzy.HighConfidenceThreshold), fm, vm, breakers)

	agg := signals.New(
		identifier.NewExtractor(identifier.DefaultRecognizers()...),
		linker.New(linker.OptionsFromConfig(c.Linker)),
	)
	engine := decision.New(decision.OptionsFromConfig(c.Decision))

	var opts []screening.Option
	if st != nil {
		opts = append(opts, screening.WithAudit(st))
	}

	return &app{
		cfg:      c,
		store:    st,
		snaps:    mgr,
		fuzzy:    fm,
		fuser:    fuser,
		screener: screening.New(mgr, agg, fuser, engine, opts...),
	}, nil
}

// newEmbedder returns the configured embedding provider; "none" yields nil
// and disables vector search.
func newEmbedder(c config.EmbeddingConfig, res config.ResilienceConfig) (vector.Embedder, error) {
	switch c.Provider {
	case "", "hash":
		return vector.HashEmbedder{Dims: c.Dims}, nil
	case "none":
		return nil, nil
	case "http":
		if c.URL == "" {
			return nil, eris.New("embedding.url is required for the http provider (SCREEN_EMBEDDING_URL)")
		}
		return embedclient.NewClient(c.URL, c.APIKey, c.Model,
			embedclient.WithHTTPClient(embedclient.DefaultHTTPClient(time.Duration(c.TimeoutSecs)*time.Second)),
			embedclient.WithRateLimit(c.RateLimitRPS),
			embedclient.WithRetry(resilience.RetryFromConfig(res)),
			embedclient.WithDims(c.Dims),
		), nil
	default:
		return nil, eris.Errorf("unsupported embedding provider: %s", c.Provider)
	}
}

// Close releases the store.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}
