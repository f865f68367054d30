package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/travelcrawl/internal/assets"
	"github.com/go-scripts/travelcrawl/internal/browser"
	"github.com/go-scripts/travelcrawl/internal/capture"
	"github.com/go-scripts/travelcrawl/internal/checkpoint"
	"github.com/go-scripts/travelcrawl/internal/config"
	"github.com/go-scripts/travelcrawl/internal/extract"
	"github.com/go-scripts/travelcrawl/internal/queue"
	"github.com/go-scripts/travelcrawl/internal/types"
)

// Stage names.
const (
	StageSeed     = "seed"
	StageDiscover = "discover"
)

// readTimeout bounds reading the rendered document of a settled page.
const readTimeout = 15 * time.Second

// SeedCommand is the command that produces the link checkpoint.
const SeedCommand = "travelcrawl seed"

// PreconditionError reports a required input checkpoint that is missing.
type PreconditionError struct {
	Path    string
	Command string
	Err     error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("link checkpoint %s not found: run '%s' first to generate it", e.Path, e.Command)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Observer is notified about crawl progress. Implementations must be safe for
// concurrent use when more than one worker is configured.
type Observer interface {
	StageStarted(stage string, total int)
	VisitStarted(t types.CrawlTarget)
	VisitFinished(t types.CrawlTarget, err error)
}

type nopObserver struct{}

func (nopObserver) StageStarted(string, int)               {}
func (nopObserver) VisitStarted(types.CrawlTarget)         {}
func (nopObserver) VisitFinished(types.CrawlTarget, error) {}

// Crawler drives the seed and discover stages.
type Crawler struct {
	cfg      *config.Config
	engine   browser.Engine
	store    *assets.Store
	logger   *log.Logger
	observer Observer
	origin   string
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(c *Crawler) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Crawler. cfg must be valid.
func New(cfg *config.Config, engine browser.Engine, store *assets.Store, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	origin, err := extract.Origin(cfg.Origin)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		logger:   log.Default(),
		observer: nopObserver{},
		origin:   origin,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Failure records a target that ended in the Failed state.
type Failure struct {
	URL   string
	Depth int
	// State is the last state reached before the failure.
	State State
	Err   error
}

// StageSummary describes one executed stage.
type StageSummary struct {
	Name       string
	Targets    int
	Succeeded  int
	Failures   []Failure
	Assets     map[assets.Outcome]int
	Checkpoint string
	Elapsed    time.Duration
}

// Summary is the outcome of a run.
type Summary struct {
	Stages    []StageSummary
	Links     int
	LinksPath string
}

// Failed returns the number of failed targets across stages.
func (s *Summary) Failed() int {
	n := 0
	for _, st := range s.Stages {
		n += len(st.Failures)
	}
	return n
}

// RunSeed visits the seed URLs, writes the link checkpoint with the
// same-origin links they contain and, when configured, runs the discovery
// pass over those links in the same process.
func (c *Crawler) RunSeed(ctx context.Context) (*Summary, error) {
	plan, err := c.plan(StageSeed, c.cfg.Stages.Seed, c.cfg.Checkpoints.SeedResults)
	if err != nil {
		return nil, err
	}

	q := queue.New()
	q.AddAll(c.cfg.Seeds, types.DepthSeed)
	targets := q.Drain()

	summary := &Summary{LinksPath: c.cfg.Checkpoints.Links}
	stage, outcomes := c.runStage(ctx, plan, targets)
	summary.Stages = append(summary.Stages, stage)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	// Links keep seed order, then document order within each seed.
	for _, o := range outcomes {
		if o.err == nil {
			q.AddAll(o.links, types.DepthDiscovered)
		}
	}
	discovered := q.Drain()
	links := make([]string, len(discovered))
	for i, t := range discovered {
		links[i] = t.URL
	}

	if err := checkpoint.WriteLinks(c.cfg.Checkpoints.Links, links); err != nil {
		return summary, fmt.Errorf("write link checkpoint: %w", err)
	}
	summary.Links = len(links)
	c.logger.Info("link checkpoint written", "path", c.cfg.Checkpoints.Links, "links", q.SeenCount(types.DepthDiscovered))

	if !c.cfg.Stages.InlineDiscover {
		return summary, nil
	}
	return summary, c.discover(ctx, summary, discovered)
}

// RunDiscover visits every URL of the link checkpoint. A missing checkpoint
// is a *PreconditionError.
func (c *Crawler) RunDiscover(ctx context.Context) (*Summary, error) {
	path := c.cfg.Checkpoints.Links
	links, err := readLinks(path)
	if err != nil {
		return nil, err
	}
	q := queue.New()
	q.AddAll(links, types.DepthDiscovered)
	c.logger.Info("link checkpoint loaded", "path", path, "links", len(links), "distinct", q.SeenCount(types.DepthDiscovered))

	summary := &Summary{Links: len(links), LinksPath: path}
	return summary, c.discover(ctx, summary, q.Drain())
}

// RequireLinks checks that the link checkpoint at path exists and is readable
// before any browser is started.
func RequireLinks(path string) error {
	_, err := readLinks(path)
	return err
}

func readLinks(path string) ([]string, error) {
	links, err := checkpoint.ReadLinks(path)
	if errors.Is(err, checkpoint.ErrMissing) {
		return nil, &PreconditionError{Path: path, Command: SeedCommand, Err: err}
	}
	return links, err
}

func (c *Crawler) discover(ctx context.Context, summary *Summary, targets []types.CrawlTarget) error {
	plan, err := c.plan(StageDiscover, c.cfg.Stages.Discover, c.cfg.Checkpoints.Results)
	if err != nil {
		return err
	}
	stage, _ := c.runStage(ctx, plan, targets)
	summary.Stages = append(summary.Stages, stage)
	return ctx.Err()
}

// stagePlan is everything a visit needs to know about its stage.
type stagePlan struct {
	name    string
	stage   config.Stage
	profile config.Profile
	results *checkpoint.ResultWriter
	pages   *checkpoint.PageWriter
}

func (c *Crawler) plan(name string, stage config.Stage, resultsPath string) (*stagePlan, error) {
	profile, err := c.cfg.Profile(stage.Profile)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	p := &stagePlan{
		name:    name,
		stage:   stage,
		profile: profile,
		results: checkpoint.NewResultWriter(resultsPath, c.logger),
	}
	if stage.WritePageData {
		p.pages = checkpoint.NewPageWriter(stage.AssetsDir)
	}
	return p, nil
}

func (p *stagePlan) assetDir(pageURL string) string {
	if p.stage.PerPageAssets {
		return filepath.Join(p.stage.AssetsDir, checkpoint.PageSlug(pageURL))
	}
	return p.stage.AssetsDir
}

// outcome is what a finished visit hands back to its stage.
type outcome struct {
	target  types.CrawlTarget
	state   State
	links   []string
	reports []assets.Report
	err     error
}

func (c *Crawler) runStage(ctx context.Context, plan *stagePlan, targets []types.CrawlTarget) (StageSummary, []outcome) {
	start := time.Now()
	c.logger.Info("stage started", "stage", plan.name, "targets", len(targets), "profile", plan.stage.Profile)
	c.observer.StageStarted(plan.name, len(targets))

	outcomes := make([]outcome, len(targets))
	run := func(i int) {
		t := targets[i]
		c.observer.VisitStarted(t)
		outcomes[i] = c.visit(ctx, plan, t)
		c.observer.VisitFinished(t, outcomes[i].err)
	}

	if c.cfg.Workers <= 1 {
		for i := range targets {
			run(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for i := range targets {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := plan.results.Flush(); err != nil {
		c.logger.Error("result checkpoint flush failed", "path", plan.results.Path(), "err", err)
	}

	summary := StageSummary{
		Name:       plan.name,
		Targets:    len(targets),
		Assets:     make(map[assets.Outcome]int),
		Checkpoint: plan.results.Path(),
	}
	for _, o := range outcomes {
		for kind, n := range assets.Tally(o.reports) {
			summary.Assets[kind] += n
		}
		if o.err != nil {
			summary.Failures = append(summary.Failures, Failure{
				URL:   o.target.URL,
				Depth: o.target.Depth,
				State: o.state,
				Err:   o.err,
			})
			continue
		}
		summary.Succeeded++
	}
	summary.Elapsed = time.Since(start)

	c.logger.Info("stage finished",
		"stage", plan.name,
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failures),
		"persisted", plan.results.Len(),
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, outcomes
}

// visit takes one target through Pending → Navigating → Settled → Extracted
// → Persisted. Any error leaves it Failed without affecting other targets.
func (c *Crawler) visit(ctx context.Context, plan *stagePlan, t types.CrawlTarget) (o outcome) {
	o = outcome{target: t, state: Pending}
	logger := c.logger.With("url", t.URL, "depth", t.Depth)

	defer func() {
		if o.err != nil {
			logger.Error("target failed", "state", Failed, "after", o.state, "err", o.err)
		}
	}()

	advance := func(s State, kv ...interface{}) {
		o.state = s
		logger.Info("target "+s.String(), kv...)
	}

	if err := ctx.Err(); err != nil {
		o.err = err
		return o
	}

	sess, err := c.engine.OpenSession(ctx)
	if err != nil {
		o.err = fmt.Errorf("open session: %w", err)
		return o
	}
	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			if err := sess.Close(); err != nil {
				logger.Warn("closing session", "err", err)
			}
		})
	}
	defer closeSession()

	// The capture is attached before navigation starts.
	handle := capture.Observe(sess.Responses(), plan.profile.Capture...)

	advance(Navigating)
	navCtx, cancelNav := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	err = sess.Navigate(navCtx, t.URL)
	cancelNav()
	if err != nil {
		o.err = err
		return o
	}

	reason, err := handle.WaitSettled(ctx, c.cfg.Settle.Quiet, c.cfg.Settle.Ceiling)
	if err != nil {
		o.err = fmt.Errorf("wait for page to settle: %w", err)
		return o
	}
	advance(Settled, "reason", reason, "assets", handle.Len())

	readCtx, cancelRead := context.WithTimeout(ctx, readTimeout)
	html, err := sess.HTML(readCtx)
	cancelRead()
	if err != nil {
		o.err = err
		return o
	}
	captured := handle.Captured()
	closeSession()

	doc, err := extract.Parse(html)
	if err != nil {
		o.err = err
		return o
	}
	record := extract.Extract(doc, plan.profile.Schema)
	if t.Depth == types.DepthSeed {
		links, err := extract.CollectLinks(doc, t.URL, c.origin)
		if err != nil {
			o.err = fmt.Errorf("collect links: %w", err)
			return o
		}
		o.links = links
	}
	advance(Extracted, "fields", record.Len(), "links", len(o.links), "assets", len(captured))

	if len(captured) > 0 {
		o.reports = c.store.FetchAll(ctx, captured, plan.assetDir(t.URL), c.cfg.Assets.Concurrency)
		counts := assets.Tally(o.reports)
		logger.Info("assets fetched",
			"downloaded", counts[assets.Downloaded],
			"skipped", counts[assets.Skipped],
			"failed", counts[assets.Failed],
		)
	}

	if plan.pages != nil {
		path, err := plan.pages.Write(t.URL, record)
		if err != nil {
			o.err = fmt.Errorf("write page data: %w", err)
			return o
		}
		logger.Debug("page data written", "path", path)
	}

	result := types.CrawlResult{URL: t.URL, Record: record, Assets: captured}
	if err := plan.results.Append(result); err != nil {
		o.err = err
		return o
	}
	advance(Persisted, "checkpoint", plan.results.Path())
	return o
}
