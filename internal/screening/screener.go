// Package screening runs one request through extraction, linking, search and
// decision against the active reference snapshot.
package screening

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/watchlist-screen/internal/decision"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/search"
	"github.com/sells-group/watchlist-screen/internal/signals"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// maxQueryConcurrency bounds parallel searches within one request.
const maxQueryConcurrency = 4

// ErrEmptyRequest is returned for a request with neither text nor tokens.
var ErrEmptyRequest = eris.New("screening: empty request")

// Request is one screening input. Tokens come from the upstream normalizer;
// SmartFilter from the upstream pre-classifier.
type Request struct {
	RequestID   string                    `json:"request_id,omitempty"`
	Text        string                    `json:"text"`
	Language    string                    `json:"language,omitempty"`
	Tokens      []model.NameToken         `json:"tokens,omitempty"`
	SmartFilter *model.SmartFilterVerdict `json:"smartfilter,omitempty"`
}

// Response is the full screening output.
type Response struct {
	RequestID           string                           `json:"request_id"`
	Decision            model.Decision                   `json:"decision"`
	Candidates          []model.Candidate                `json:"candidates"`
	Persons             []model.PersonSignal             `json:"persons"`
	Organizations       []model.OrganizationSignal       `json:"organizations"`
	UnlinkedIdentifiers []model.LinkedIdentifier         `json:"unlinked_identifiers"`
	Evidence            model.Evidence                   `json:"evidence"`
	SnapshotVersion     uint64                           `json:"snapshot_version"`
	StrategyStatus      map[string]search.StrategyStatus `json:"strategy_status"`
	DurationMs          int64                            `json:"duration_ms"`
}

// SmartFilter is the pre-classifier collaborator, consulted when a request
// carries no verdict.
type SmartFilter interface {
	Classify(ctx context.Context, text, language string) (model.SmartFilterVerdict, error)
}

// SnapshotSource yields the active snapshot; *snapshot.Manager implements it.
type SnapshotSource interface {
	Current() *snapshot.Snapshot
}

// AuditSink persists decisions. Failures are logged, never returned to the
// caller.
type AuditSink interface {
	RecordScreening(ctx context.Context, rec AuditRecord) error
}

// AuditRecord is one persisted screening.
type AuditRecord struct {
	RequestID       string
	Text            string
	Language        string
	Decision        model.Decision
	Candidates      []model.Candidate
	SnapshotVersion uint64
	CreatedAt       time.Time
}

// Screener wires the pipeline. Safe for concurrent use.
type Screener struct {
	snapshots  SnapshotSource
	aggregator *signals.Aggregator
	fuser      *search.Fuser
	engine     *decision.Engine
	filter     SmartFilter
	audit      AuditSink
	metrics    *Metrics
}

// Option customizes a Screener.
type Option func(*Screener)

// WithSmartFilter sets the pre-classifier.
func WithSmartFilter(f SmartFilter) Option { return func(s *Screener) { s.filter = f } }

// WithAudit sets the audit sink.
func WithAudit(a AuditSink) Option { return func(s *Screener) { s.audit = a } }

// New returns a Screener.
func New(snapshots SnapshotSource, agg *signals.Aggregator, fuser *search.Fuser, engine *decision.Engine, opts ...Option) *Screener {
	s := &Screener{
		snapshots:  snapshots,
		aggregator: agg,
		fuser:      fuser,
		engine:     engine,
		metrics:    &Metrics{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Metrics returns the screener's counters.
func (s *Screener) Metrics() *Metrics { return s.metrics }

// Screen processes one request. Apart from an empty request, it always
// produces a decision: missing reference data or failed strategies degrade
// the evidence instead of failing.
func (s *Screener) Screen(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Tokens) == 0 {
		return nil, ErrEmptyRequest
	}
	start := time.Now()
	reqID := req.RequestID
	if reqID == "" {
		reqID = uuid.New().String()
	}
	log := zap.L().With(zap.String("request_id", reqID))

	verdict := s.smartFilter(ctx, req, log)

	// The snapshot is loaded once so every query in this request sees the
	// same reference data.
	snap := s.snapshots.Current()

	agg := s.aggregator.Aggregate(signals.Input{Text: req.Text, Language: req.Language, Tokens: req.Tokens})
	set := agg.Signals

	var res search.Result
	if verdict.ShouldProcess {
		res = s.search(ctx, snap, queries(req.Text, set))
	}

	in := decisionInput(req, verdict, set, agg.Identifiers, res)
	d := s.engine.Decide(in)
	if d.Details == nil {
		d.Details = map[string]any{}
	}
	d.Details["strategy_status"] = res.StrategyStatus
	d.Details["snapshot_version"] = res.SnapshotVersion

	resp := &Response{
		RequestID:           reqID,
		Decision:            d,
		Candidates:          nonNilCandidates(res.Candidates),
		Persons:             set.Persons,
		Organizations:       set.Organizations,
		UnlinkedIdentifiers: set.Unlinked,
		Evidence:            set.Evidence,
		SnapshotVersion:     res.SnapshotVersion,
		StrategyStatus:      res.StrategyStatus,
		DurationMs:          time.Since(start).Milliseconds(),
	}
	s.metrics.observe(d, res.Summary.Degraded)

	log.Info("screening: decided",
		zap.String("risk", string(d.Risk)),
		zap.Float64("score", d.Score),
		zap.Bool("review_required", d.ReviewRequired),
		zap.Int("candidates", len(resp.Candidates)),
		zap.Uint64("snapshot_version", resp.SnapshotVersion),
		zap.Int64("duration_ms", resp.DurationMs),
	)

	if s.audit != nil {
		rec := AuditRecord{
			RequestID:       reqID,
			Text:            req.Text,
			Language:        req.Language,
			Decision:        d,
			Candidates:      resp.Candidates,
			SnapshotVersion: resp.SnapshotVersion,
			CreatedAt:       start.UTC(),
		}
		// the decision stands even when the audit write fails
		if err := s.audit.RecordScreening(context.WithoutCancel(ctx), rec); err != nil {
			s.metrics.auditFailures.Add(1)
			log.Error("screening: audit write failed", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Screener) smartFilter(ctx context.Context, req Request, log *zap.Logger) model.SmartFilterVerdict {
	if req.SmartFilter != nil {
		return *req.SmartFilter
	}
	if s.filter == nil {
		return model.SmartFilterVerdict{ShouldProcess: true}
	}
	v, err := s.filter.Classify(ctx, req.Text, req.Language)
	if err != nil {
		// fail open: screening a text is safer than skipping it
		log.Warn("screening: smart filter failed", zap.Error(err))
		return model.SmartFilterVerdict{ShouldProcess: true}
	}
	return v
}

// search runs every query against snap in parallel and merges the results.
func (s *Screener) search(ctx context.Context, snap *snapshot.Snapshot, qs []search.Query) search.Result {
	results := make([]search.Result, len(qs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxQueryConcurrency)
	for i, q := range qs {
		g.Go(func() error {
			results[i] = s.fuser.Search(gctx, snap, q)
			return nil
		})
	}
	_ = g.Wait()
	return s.fuser.Merge(results...)
}

// queries builds one query per person and organization, one for identifiers
// left unlinked, and falls back to scanning the whole text when no mention
// was found.
func queries(text string, set model.SignalSet) []search.Query {
	var qs []search.Query
	for _, p := range set.Persons {
		q := search.Query{
			Name:        p.FullName,
			Identifiers: taxIDs(p.Identifiers),
			EntityType:  model.EntityPerson,
		}
		if q.Name != "" || len(q.Identifiers) > 0 {
			qs = append(qs, q)
		}
	}
	for _, o := range set.Organizations {
		name := o.FullName
		if name == "" {
			name = strings.Join(o.Core, " ")
		}
		q := search.Query{
			Name:        name,
			Identifiers: taxIDs(o.Identifiers),
			EntityType:  model.EntityOrganization,
		}
		if q.Name != "" || len(q.Identifiers) > 0 {
			qs = append(qs, q)
		}
	}
	if ids := taxIDs(set.Unlinked); len(ids) > 0 {
		qs = append(qs, search.Query{Identifiers: ids})
	}
	if len(qs) == 0 && strings.TrimSpace(text) != "" {
		qs = append(qs, search.Query{Name: text})
	}
	return qs
}

// taxIDs returns normalized non-date identifier values, valid or not: a
// sanctioned record may carry a value that fails its checksum.
func taxIDs(ids []model.LinkedIdentifier) []string {
	var out []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if !id.Kind.IsTaxID() || id.NormalizedValue == "" || seen[id.NormalizedValue] {
			continue
		}
		seen[id.NormalizedValue] = true
		out = append(out, id.NormalizedValue)
	}
	return out
}

func decisionInput(req Request, verdict model.SmartFilterVerdict, set model.SignalSet, extracted []model.IdentifierCandidate, res search.Result) model.DecisionInput {
	var queryIDs, queryDates []string
	seen := make(map[string]bool)
	for _, id := range extracted {
		v := id.NormalizedValue
		if v == "" || seen[string(id.Kind)+v] {
			continue
		}
		seen[string(id.Kind)+v] = true
		switch {
		case id.Kind == model.IdentifierDate:
			if id.IsValid {
				queryDates = append(queryDates, v)
			}
		case id.Kind.IsTaxID():
			queryIDs = append(queryIDs, v)
		}
	}

	return model.DecisionInput{
		Text:        req.Text,
		Language:    req.Language,
		SmartFilter: verdict,
		Signals: model.SignalSummary{
			PersonConfidence: set.PersonConfidence(),
			OrgConfidence:    set.OrgConfidence(),
			IDMatch:          idMatch(queryIDs, res.Candidates),
			DateMatch:        dateMatch(queryDates, set.Persons, res.Candidates),
			Evidence:         set.Evidence.Sorted(),
		},
		Similarity:       res.Similarity,
		Search:           res.Summary,
		QueryIdentifiers: queryIDs,
		QueryDates:       queryDates,
	}
}

func idMatch(ids []string, cands []model.Candidate) bool {
	for _, c := range cands {
		for _, id := range ids {
			want := textnorm.CanonicalID(id)
			if want == "" {
				continue
			}
			for _, cid := range c.Identifiers {
				if textnorm.CanonicalID(cid) == want {
					return true
				}
			}
		}
	}
	return false
}

// dateMatch reports whether a linked date of birth, or failing that any
// extracted date, equals a candidate's date of birth.
func dateMatch(dates []string, persons []model.PersonSignal, cands []model.Candidate) bool {
	want := make(map[string]bool)
	for _, p := range persons {
		if p.DateOfBirth != "" {
			want[p.DateOfBirth] = true
		}
	}
	if len(want) == 0 {
		for _, d := range dates {
			want[d] = true
		}
	}
	for _, c := range cands {
		if c.DateOfBirth != "" && want[c.DateOfBirth] {
			return true
		}
	}
	return false
}

func nonNilCandidates(cs []model.Candidate) []model.Candidate {
	if cs == nil {
		return []model.Candidate{}
	}
	return cs
}
