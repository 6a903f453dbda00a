// Command rssctl is the operator tool for an rss-reader deployment: it shows
// which minute bucket a feed is synced in, signs image proxy URLs, applies
// migrations and lists stored feeds.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/rss-reader/app/cfg"
	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/imageproxy"
	"github.com/lysyi3m/rss-reader/app/tasks"
)

type CLI struct {
	DBPath string `name:"db-path" env:"DB_PATH" default:"./data/rss.db" help:"Path to the SQLite database file"`

	Bucket  BucketCmd  `cmd:"" help:"Print the sync bucket of feed URLs"`
	Sign    SignCmd    `cmd:"" help:"Print a signed image proxy URL"`
	Migrate MigrateCmd `cmd:"" help:"Apply pending database migrations"`
	Feeds   FeedsCmd   `cmd:"" help:"List stored feeds with their bucket and fetch state"`
}

type runContext struct {
	out    io.Writer
	dbPath string
}

type BucketCmd struct {
	URLs []string `arg:"" name:"url" help:"Feed URLs"`
}

func (c *BucketCmd) Run(rc *runContext) error {
	for _, u := range c.URLs {
		fmt.Fprintf(rc.out, "%d\t%s\n", tasks.Bucket(u), u)
	}
	return nil
}

type SignCmd struct {
	URL     string `arg:"" name:"image-url" help:"Absolute http(s) image URL"`
	Secret  string `env:"IMAGE_PROXY_SECRET" required:"" help:"Image proxy secret used by the server"`
	BaseURL string `name:"base-url" env:"BASE_URL" help:"Public base URL of the server"`
}

func (c *SignCmd) Run(rc *runContext) error {
	secret, generated, err := cfg.ResolveSecret(c.Secret)
	if err != nil {
		return err
	}
	if generated {
		return errors.New("image proxy secret must be at least 16 bytes")
	}

	if _, err := imageproxy.Canonicalize(c.URL); err != nil {
		return err
	}

	signer := imageproxy.NewSigner(secret, strings.TrimSuffix(c.BaseURL, "/")+imageproxy.DefaultPath)
	fmt.Fprintln(rc.out, signer.ProxyURL(c.URL))
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(rc *runContext) error {
	db, err := database.Open(rc.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}

	fmt.Fprintf(rc.out, "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

type FeedsCmd struct{}

func (c *FeedsCmd) Run(rc *runContext) error {
	db, err := database.OpenMigrated(rc.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	feeds, err := database.NewFeedRepository(db).ListFeeds()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(rc.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBUCKET\tLAST FETCH\tERROR\tURL")
	for _, f := range feeds {
		lastFetch := "never"
		if f.LastFetchedAt != nil {
			lastFetch = f.LastFetchedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", f.ID, tasks.Bucket(f.URL), lastFetch, f.LastFetchError, f.URL)
	}
	return w.Flush()
}

func run(args []string, out io.Writer) error {
	var cli CLI

	parser, err := kong.New(&cli,
		kong.Name("rssctl"),
		kong.Description("Operator tool for rss-reader."),
		kong.Writers(out, out),
		kong.UsageOnError(),
		kong.Configuration(yamlLoader, "~/.config/rssctl.yaml"),
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return ctx.Run(&runContext{out: out, dbPath: cli.DBPath})
}

// yamlLoader resolves flags from a YAML file keyed by flag name, with
// dashes or underscores.
func yamlLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (interface{}, error) {
		for _, name := range []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")} {
			if v, ok := values[name]; ok {
				return v, nil
			}
		}
		return nil, nil
	}
	return f, nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rssctl:", err)
		os.Exit(1)
	}
}
