// Package andadb composes the KIP parser/planner and the Cognitive Nexus
// executor behind one embeddable Store, the single entrypoint named in
// spec §6: {command, parameters, dry_run} -> result.
package andadb

import (
	"context"
	"fmt"
	"time"

	anda "github.com/ldclabs/anda-db"
	"github.com/ldclabs/anda-db/blobstore"
	"github.com/ldclabs/anda-db/kip"
	"github.com/ldclabs/anda-db/nexus"
	"github.com/ldclabs/anda-db/resource"
	"github.com/ldclabs/anda-db/value"
)

// Options configures a new Store.
type Options struct {
	Blobs     blobstore.Store
	WALDir    string
	Logger    *anda.Logger
	Metrics   MetricsCollector
	Resources *resource.Controller
}

type options struct {
	blobs   blobstore.Store
	walDir  string
	logger  *anda.Logger
	metrics MetricsCollector
	res     *resource.Controller
}

// Option mutates a Store's configuration, following the functional-
// options pattern used throughout this module.
type Option func(*options)

// WithBlobs sets the object-store backend.
func WithBlobs(s blobstore.Store) Option { return func(o *options) { o.blobs = s } }

// WithWALDir enables write-ahead logging rooted at dir.
func WithWALDir(dir string) Option { return func(o *options) { o.walDir = dir } }

// WithLogger sets the structured logger.
func WithLogger(l *anda.Logger) Option { return func(o *options) { o.logger = l } }

// WithResources bounds checkpoint concurrency and IO throughput.
func WithResources(r *resource.Controller) Option { return func(o *options) { o.res = r } }

// WithMetrics sets the metrics collector. Pass nil to disable.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// Store is the embeddable database handle: one Cognitive Nexus over one
// pair of concept/proposition collections, exposing the KIP wire
// surface.
type Store struct {
	nexus   *nexus.Executor
	metrics MetricsCollector
	logger  *anda.Logger
}

// Open creates or reopens a Store, running genesis bootstrap if needed
// (spec §4.6).
func Open(ctx context.Context, optFns ...Option) (*Store, error) {
	o := &options{metrics: NoopMetricsCollector{}}
	for _, fn := range optFns {
		fn(o)
	}
	if o.logger == nil {
		o.logger = anda.NoopLogger()
	}

	ex, err := nexus.NewExecutor(ctx, nexus.Options{
		Blobs:     o.blobs,
		WALDir:    o.walDir,
		Logger:    o.logger,
		Resources: o.res,
	})
	if err != nil {
		return nil, fmt.Errorf("andadb: open: %w", err)
	}
	return &Store{nexus: ex, metrics: o.metrics, logger: o.logger}, nil
}

// Close releases the store's underlying collections.
func (s *Store) Close() error { return s.nexus.Close() }

// Checkpoint flushes the store to durable storage.
func (s *Store) Checkpoint(ctx context.Context) error { return s.nexus.Checkpoint(ctx) }

// Request is the KIP wire surface's input shape (spec §6).
type Request struct {
	Command    string
	Parameters map[string]value.Value
	DryRun     bool
}

// Response is the KIP wire surface's output shape: Rows is populated for
// a successful FIND, Status for a write/META command, Errors for a
// failed dry-run or a rejected command.
type Response struct {
	OK     bool
	Rows   []nexus.Row
	Status map[string]any
	Errors []*kip.ValidationError
}

// Execute parses req.Command (substituting req.Parameters first),
// validates it, and — unless req.DryRun — runs it against the Nexus
// (spec §4.5: "dry-run... validates grammar, resolves all referenced
// concept/proposition types against the meta-schema, and returns either
// {ok} or a structured list of errors; no index is mutated").
func (s *Store) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	text, err := kip.Substitute(req.Command, req.Parameters)
	if err != nil {
		return nil, err
	}
	cmd, err := kip.Parse(text)
	if err != nil {
		var perr *kip.ParseError
		if ok := asParseError(err, &perr); ok {
			return &Response{OK: false, Errors: []*kip.ValidationError{
				{Kind: "Parse", Path: "command", Msg: perr.Error()},
			}}, nil
		}
		return nil, err
	}

	if errs := s.nexus.Validate(ctx, cmd); len(errs) > 0 {
		return &Response{OK: false, Errors: errs}, nil
	}
	if req.DryRun {
		return &Response{OK: true}, nil
	}

	resp, err := s.dispatch(ctx, cmd)
	s.record(cmd, resp, start, err)
	return resp, err
}

func asParseError(err error, target **kip.ParseError) bool {
	if pe, ok := err.(*kip.ParseError); ok {
		*target = pe
		return true
	}
	return false
}

func (s *Store) dispatch(ctx context.Context, cmd kip.Command) (*Response, error) {
	switch c := cmd.(type) {
	case *kip.FindQuery:
		rows, err := s.nexus.Find(ctx, c)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Rows: rows}, nil

	case *kip.UpsertCommand:
		result, err := s.nexus.Upsert(ctx, c)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]any, len(result.ConceptIDs))
		for k, v := range result.ConceptIDs {
			ids[k] = uint64(v)
		}
		return &Response{OK: true, Status: map[string]any{
			"concept_ids": ids,
			"metadata_id": result.MetadataID,
		}}, nil

	case *kip.DeleteConceptCommand:
		n, err := s.nexus.DeleteConcept(ctx, c)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"deleted": n}}, nil

	case *kip.DeletePropositionCommand:
		n, err := s.nexus.DeleteProposition(ctx, c)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"deleted": n}}, nil

	case *kip.DescribeCommand:
		return s.dispatchDescribe(ctx, c)

	default:
		return nil, fmt.Errorf("andadb: unsupported command type %T", cmd)
	}
}

func (s *Store) dispatchDescribe(ctx context.Context, c *kip.DescribeCommand) (*Response, error) {
	switch c.Kind {
	case kip.DescribeConceptTypes:
		types, err := s.nexus.DescribeConceptTypes(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"concept_types": types}}, nil
	case kip.DescribePropositionTypes:
		types, err := s.nexus.DescribePropositionTypes(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"proposition_types": types}}, nil
	case kip.DescribeConceptType:
		attrs, err := s.nexus.DescribeConceptType(ctx, c.TypeName)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"attributes": attrs}}, nil
	case kip.DescribePrimerKind:
		primer, err := s.nexus.DescribePrimer(ctx)
		if err != nil {
			return nil, err
		}
		return &Response{OK: true, Status: map[string]any{"primer": primer}}, nil
	default:
		return nil, fmt.Errorf("andadb: unsupported describe kind %d", c.Kind)
	}
}

func (s *Store) record(cmd kip.Command, resp *Response, start time.Time, err error) {
	dur := time.Since(start)
	switch cmd.(type) {
	case *kip.FindQuery:
		n := 0
		if resp != nil {
			n = len(resp.Rows)
		}
		s.metrics.RecordQuery(n, dur, err)
	case *kip.UpsertCommand:
		s.metrics.RecordWrite("upsert", dur, err)
	case *kip.DeleteConceptCommand, *kip.DeletePropositionCommand:
		s.metrics.RecordWrite("delete", dur, err)
	case *kip.DescribeCommand:
		s.metrics.RecordDescribe(dur, err)
	}
}
