package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/inkpress/inkpress/internal/article"
	"github.com/inkpress/inkpress/internal/cdp"
	"github.com/inkpress/inkpress/internal/config"
	. "github.com/inkpress/inkpress/internal/logging"
	"github.com/inkpress/inkpress/internal/publish"
	"github.com/inkpress/inkpress/internal/site"
)

const version = "0.1.0"

var cli struct {
	Debug bool `help:"Enable debug logging."`

	Publish PublishCmd `cmd:"" help:"Publish a markdown article through a locally driven browser."`
	Version VersionCmd `cmd:"" help:"Print the inkpress version."`
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("inkpress %s\n", version)
	return nil
}

type PublishCmd struct {
	File string `arg:"" optional:"" type:"existingfile" help:"Markdown source document with optional YAML frontmatter."`

	Title    string   `help:"Article title; overrides frontmatter."`
	Content  string   `help:"Inline article body; alternative to a source file."`
	Tags     []string `help:"Tags; override frontmatter." sep:","`
	Category string   `help:"Category; overrides frontmatter."`
	Draft    bool     `help:"Save as draft instead of publishing."`

	Profile  string `help:"Browser profile name (persists the site login)."`
	Site     string `help:"Site catalog TOML file." type:"existingfile"`
	Headless bool   `help:"Run the browser headless. Interactive login needs a window."`
}

func (c *PublishCmd) Run(cfg *config.Config) error {
	a, err := c.buildArticle()
	if err != nil {
		return err
	}

	catalog, err := c.loadSite(cfg)
	if err != nil {
		return err
	}

	headless := cfg.Browser.Headless || c.Headless

	conn, proc, err := cdp.Launch(cdp.LaunchOptions{
		ProfileDir:  cfg.ResolveProfileDir(c.Profile),
		StartURL:    catalog.EditorURL,
		BrowserPath: cfg.Browser.Path,
		Headless:    headless,
	})
	if err != nil {
		return err
	}
	cleanup := func() {
		conn.Close()
		proc.Kill()
	}
	defer cleanup()

	// The browser and its connection are released together on interrupt too.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		L_warn("interrupted, cleaning up")
		cleanup()
		os.Exit(130)
	}()

	if err := publish.New(conn, catalog).Run(a); err != nil {
		return err
	}

	L_info("done", "title", a.Title, "draft", a.Draft)
	return nil
}

// buildArticle assembles the article from the source file and inline flags;
// flags win over frontmatter.
func (c *PublishCmd) buildArticle() (*article.Article, error) {
	var a *article.Article

	switch {
	case c.File != "":
		parsed, err := article.ParseFile(c.File)
		if err != nil {
			return nil, err
		}
		a = parsed
	case c.Content != "" && c.Title != "":
		a = &article.Article{Title: c.Title, Content: c.Content}
	default:
		return nil, fmt.Errorf("give a source file, or both --title and --content")
	}

	if c.Title != "" {
		a.Title = c.Title
	}
	if len(c.Tags) > 0 {
		a.Tags = c.Tags
	}
	if c.Category != "" {
		a.Category = c.Category
	}
	if c.Draft {
		a.Draft = true
	}
	return a, nil
}

func (c *PublishCmd) loadSite(cfg *config.Config) (*site.Site, error) {
	path := c.Site
	if path == "" {
		path = cfg.Site
	}
	if path == "" {
		return site.Default(), nil
	}
	return site.Load(path)
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("inkpress"),
		kong.Description("Publish markdown articles by driving a local browser over its debug protocol."),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: cli.Debug})

	cfg, err := config.Load()
	if err != nil {
		L_fatal("failed to load config: %v", err)
	}

	ctx.FatalIfErrorf(ctx.Run(cfg))
}
