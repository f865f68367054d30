package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/go-scripts/travelcrawl/internal/assets"
	"github.com/go-scripts/travelcrawl/internal/browser"
	"github.com/go-scripts/travelcrawl/internal/config"
	"github.com/go-scripts/travelcrawl/internal/crawler"
	"github.com/go-scripts/travelcrawl/internal/progress"
	"github.com/go-scripts/travelcrawl/ui"
)

var version = "dev"

// Globals are the flags shared by every command. Zero values leave the
// configuration untouched.
type Globals struct {
	Config      string        `help:"Path to a YAML configuration file overlaid on the built-in defaults." short:"c" type:"path"`
	Debug       bool          `help:"Enable debug logging."`
	Workers     int           `help:"Number of pages visited in parallel." short:"w"`
	ShowBrowser bool          `help:"Run Chrome with a visible window."`
	Quiet       time.Duration `help:"Settle once no new asset was captured for this long."`
	Ceiling     time.Duration `help:"Upper bound on the settle wait per page."`
	Links       string        `help:"Link checkpoint path."`
	Results     string        `help:"Result checkpoint path of the discover stage."`
	NoProgress  bool          `help:"Disable the spinner and progress bar."`

	logger *log.Logger `kong:"-"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Seed     SeedCmd     `cmd:"" help:"Visit the seed pages and write the link checkpoint."`
	Discover DiscoverCmd `cmd:"" help:"Visit every link of the link checkpoint."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// SeedCmd runs the seed stage.
type SeedCmd struct {
	Inline bool `help:"Also visit the discovered links in this run."`
}

func (c *SeedCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Inline {
		cfg.Stages.InlineDiscover = true
	}
	return g.crawl(cfg, (*crawler.Crawler).RunSeed)
}

// DiscoverCmd runs the discover stage.
type DiscoverCmd struct{}

func (c *DiscoverCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := crawler.RequireLinks(cfg.Checkpoints.Links); err != nil {
		return err
	}
	return g.crawl(cfg, (*crawler.Crawler).RunDiscover)
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("travelcrawl", version)
	return nil
}

func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.LoadFile(g.Config)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	g.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// apply copies the flags that were set onto cfg.
func (g *Globals) apply(cfg *config.Config) {
	if g.Workers > 0 {
		cfg.Workers = g.Workers
	}
	if g.ShowBrowser {
		cfg.Browser.Headless = false
	}
	if g.Quiet > 0 {
		cfg.Settle.Quiet = g.Quiet
	}
	if g.Ceiling > 0 {
		cfg.Settle.Ceiling = g.Ceiling
	}
	if g.Links != "" {
		cfg.Checkpoints.Links = g.Links
	}
	if g.Results != "" {
		cfg.Checkpoints.Results = g.Results
	}
}

type stageFunc func(*crawler.Crawler, context.Context) (*crawler.Summary, error)

func (g *Globals) crawl(cfg *config.Config, run stageFunc) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := browser.NewChromeEngine(browser.Options{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		PoolSize:  cfg.Browser.PoolSize,
		Logger:    g.logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	store := assets.NewStore(
		assets.WithHTTPClient(&http.Client{Timeout: cfg.Assets.Timeout}),
		assets.WithUserAgent(cfg.Browser.UserAgent),
		assets.WithLogger(g.logger),
	)

	opts := []crawler.Option{crawler.WithLogger(g.logger)}
	if !g.NoProgress {
		opts = append(opts, crawler.WithObserver(progress.New(os.Stdout)))
	}
	c, err := crawler.New(cfg, engine, store, opts...)
	if err != nil {
		return err
	}

	summary, err := run(c, ctx)
	if summary != nil {
		fmt.Println(ui.RenderSummary(summary))
	}
	return err
}

func newLogger(debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "travelcrawl",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("travelcrawl"),
		kong.Description("Two-stage crawler for travel offer pages."),
		kong.UsageOnError(),
	)

	cli.logger = newLogger(cli.Debug)
	log.SetDefault(cli.logger)

	if err := ctx.Run(&cli.Globals); err != nil {
		var pre *crawler.PreconditionError
		if errors.As(err, &pre) {
			cli.logger.Error("missing link checkpoint", "path", pre.Path, "hint", "run '"+pre.Command+"' first")
		} else {
			cli.logger.Error("run failed", "err", err)
		}
		os.Exit(1)
	}
}
