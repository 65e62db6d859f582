// Package refdata loads watch-list entities from CSV, XLSX, YAML and JSON
// files, optionally zipped, from local paths or http(s)/ftp URLs.
package refdata

import (
	"context"
	"io"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/resilience"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
)

// Format is a reference file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// maxParallelSources bounds concurrent source downloads.
const maxParallelSources = 4

// Options configures a Loader.
type Options struct {
	// Format overrides extension-based detection for every source.
	Format Format
	// Encoding of text sources; empty means UTF-8.
	Encoding string
	HTTP     HTTPOptions
	FTP      FTPOptions
}

// OptionsFromConfig maps the reference and resilience sections onto Options.
func OptionsFromConfig(ref config.ReferenceConfig, res config.ResilienceConfig) Options {
	timeout := time.Duration(ref.TimeoutSecs) * time.Second
	return Options{
		Format:   Format(strings.ToLower(ref.Format)),
		Encoding: ref.Encoding,
		HTTP: HTTPOptions{
			Timeout: timeout,
			Retry:   resilience.RetryFromConfig(res),
		},
		FTP: FTPOptions{Timeout: timeout},
	}
}

// Loader reads reference entities from one or more sources.
type Loader struct {
	opts Options
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewLoader returns a Loader.
func NewLoader(opts Options) *Loader {
	return &Loader{
		opts: opts,
		http: NewHTTPFetcher(opts.HTTP),
		ftp:  NewFTPFetcher(opts.FTP),
	}
}

// SplitSources splits a comma-separated source list.
func SplitSources(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Bind returns a snapshot.Loader that reads sources on every reload.
func (l *Loader) Bind(sources []string) snapshot.Loader {
	return snapshot.LoaderFunc(func(ctx context.Context) ([]model.Entity, error) {
		return l.LoadAll(ctx, sources)
	})
}

// LoadAll loads every source concurrently and merges the results by
// entity_id, in source order.
func (l *Loader) LoadAll(ctx context.Context, sources []string) ([]model.Entity, error) {
	if len(sources) == 0 {
		return nil, eris.New("refdata: no sources")
	}
	results := make([][]model.Entity, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSources)
	for i, src := range sources {
		g.Go(func() error {
			ents, err := l.Load(gctx, src)
			if err != nil {
				return err
			}
			results[i] = ents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.Entity
	for _, r := range results {
		all = append(all, r...)
	}
	return Merge(all), nil
}

// Load reads one source. Remote sources are downloaded to a temporary file
// first.
func (l *Loader) Load(ctx context.Context, source string) ([]model.Entity, error) {
	start := time.Now()
	localPath, cleanup, err := l.fetch(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: fetch %s", source)
	}
	defer cleanup()

	name := sourceName(source)
	if strings.EqualFold(path.Ext(name), ".zip") {
		dir, err := os.MkdirTemp("", "refdata-zip-*")
		if err != nil {
			return nil, eris.Wrap(err, "refdata: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		if localPath, err = ExtractZIPSingle(localPath, dir); err != nil {
			return nil, eris.Wrapf(err, "refdata: unzip %s", source)
		}
		name = filepath.Base(localPath)
	}

	format := l.opts.Format
	if format == "" {
		if format, err = DetectFormat(name); err != nil {
			return nil, eris.Wrapf(err, "refdata: %s", source)
		}
	}

	ents, err := l.parseFile(ctx, localPath, format)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: parse %s", source)
	}
	zap.L().Info("refdata: loaded source",
		zap.String("source", source),
		zap.String("format", string(format)),
		zap.Int("entities", len(ents)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ents, nil
}

// fetch returns a local path for source, downloading remote URLs.
func (l *Loader) fetch(ctx context.Context, source string) (string, func(), error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path (a one-letter scheme is a Windows drive)
		return source, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "refdata-*-"+path.Base(u.Path))
	if err != nil {
		return "", nil, eris.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close() //nolint:errcheck
	cleanup := func() { _ = os.Remove(tmpPath) }

	switch u.Scheme {
	case "http", "https":
		_, err = l.http.DownloadToFile(ctx, source, tmpPath)
	case "ftp":
		_, err = l.ftp.DownloadToFile(ctx, source, tmpPath)
	case "file":
		cleanup()
		return u.Path, func() {}, nil
	default:
		err = eris.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return tmpPath, cleanup, nil
}

func (l *Loader) parseFile(ctx context.Context, p string, format Format) ([]model.Entity, error) {
	if format == FormatXLSX {
		header, rows, err := ReadXLSX(p, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		return EntitiesFromRows(header, rows)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	r, err := DecodeReader(f, l.opts.Encoding)
	if err != nil {
		return nil, err
	}
	return parseReader(ctx, r, format)
}

func parseReader(ctx context.Context, r io.Reader, format Format) ([]model.Entity, error) {
	switch format {
	case FormatCSV:
		return ReadCSVEntities(ctx, r)
	case FormatJSON:
		return ReadJSONEntities(ctx, r)
	case FormatYAML:
		return ReadYAMLEntities(r)
	default:
		return nil, eris.Errorf("unsupported format %q", format)
	}
}

// DetectFormat maps a file name's extension onto a Format.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("cannot detect format of %q", name)
	}
}

func sourceName(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return path.Base(u.Path)
	}
	return filepath.Base(source)
}

// Merge folds records that share an entity_id: later scalar fields win when
// set, aliases and identifiers accumulate without duplicates. The result is
// sorted by entity_id.
func Merge(entities []model.Entity) []model.Entity {
	byID := make(map[string]*model.Entity, len(entities))
	var order []string
	for _, e := range entities {
		cur, ok := byID[e.EntityID]
		if !ok {
			c := e
			c.Aliases = append([]string(nil), e.Aliases...)
			c.Identifiers = append([]string(nil), e.Identifiers...)
			c.Metadata = maps.Clone(e.Metadata)
			byID[e.EntityID] = &c
			order = append(order, e.EntityID)
			continue
		}
		if e.EntityType != "" {
			cur.EntityType = e.EntityType
		}
		if e.NormalizedName != "" && e.NormalizedName != cur.NormalizedName {
			cur.Aliases = appendUnique(cur.Aliases, cur.NormalizedName)
			cur.NormalizedName = e.NormalizedName
		}
		if e.Country != "" {
			cur.Country = e.Country
		}
		if e.DateOfBirth != "" {
			cur.DateOfBirth = e.DateOfBirth
		}
		if len(e.Embedding) > 0 {
			cur.Embedding = e.Embedding
		}
		for _, a := range e.Aliases {
			cur.Aliases = appendUnique(cur.Aliases, a)
		}
		for _, id := range e.Identifiers {
			cur.Identifiers = appendUnique(cur.Identifiers, id)
		}
		for k, v := range e.Metadata {
			if cur.Metadata == nil {
				cur.Metadata = map[string]string{}
			}
			cur.Metadata[k] = v
		}
	}
	sort.Strings(order)
	out := make([]model.Entity, 0, len(order))
	for _, id := range order {
		e := byID[id]
		e.Aliases = removeValue(e.Aliases, e.NormalizedName)
		out = append(out, *e)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func removeValue(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
