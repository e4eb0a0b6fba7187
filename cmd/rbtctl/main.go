// Command rbtctl is the operator CLI for rbt. It talks to the same cache and
// storage as the server, so it works while the server is down.
//
// Usage:
//
//	rbtctl bans list --all
//	rbtctl bans unban 203.0.113.7
//	rbtctl jobs enqueue John 3 es
//	rbtctl jobs status 6f1c...
//	rbtctl config example rbt.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"rbt/internal/cache"
	"rbt/internal/config"
	"rbt/internal/content"
	"rbt/internal/models"
	"rbt/internal/ratelimit"
	"rbt/internal/storage"
	"rbt/internal/translation"
	"rbt/internal/version"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Path to config file." type:"path"`

	Bans    BansCmd    `cmd:"" help:"Inspect and lift rate limit bans."`
	Jobs    JobsCmd    `cmd:"" help:"Inspect and queue translation jobs."`
	Conf    ConfCmd    `cmd:"" name:"config" help:"Configuration helpers."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Env is shared by every command.
type Env struct {
	Ctx       context.Context
	Out       io.Writer
	LoadCfg   func() (*models.Config, error)
	OpenCache func(context.Context, models.CacheConfig) (cache.Cache, error)
	OpenStore func(context.Context, models.StorageConfig) (storage.Storage, error)
	OpenText  func(context.Context, models.ContentConfig) (content.Source, error)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// BansCmd groups the ban commands.
type BansCmd struct {
	List  BansListCmd  `cmd:"" help:"List active bans."`
	Unban BansUnbanCmd `cmd:"" help:"Remove the ban, strikes and windows of an IP."`
}

type BansListCmd struct {
	All bool `help:"Include strikes and rate limit windows."`
}

func (c *BansListCmd) Run(env *Env) error {
	guard, closeFn, err := openGuard(env)
	if err != nil {
		return err
	}
	defer closeFn()

	var entries []ratelimit.StateEntry
	if c.All {
		entries, err = guard.Entries(env.Ctx)
	} else {
		entries, err = guard.Bans(env.Ctx)
	}
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []ratelimit.StateEntry{}
	}
	return printJSON(env.Out, entries)
}

type BansUnbanCmd struct {
	IP string `arg:"" help:"Client IP address."`
}

func (c *BansUnbanCmd) Run(env *Env) error {
	guard, closeFn, err := openGuard(env)
	if err != nil {
		return err
	}
	defer closeFn()

	removed, err := guard.Unban(env.Ctx, c.IP)
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("no rate limit state for %s", c.IP)
	}
	fmt.Fprintf(env.Out, "Removed %d entries for %s\n", removed, c.IP)
	return nil
}

func openGuard(env *Env) (*ratelimit.Guard, func(), error) {
	cfg, err := env.LoadCfg()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache.Type == models.CacheTypeMemory {
		return nil, nil, fmt.Errorf("cache type %q is private to the server process; use DELETE /api/admin/bans/{ip} on the running server instead",
			models.CacheTypeMemory)
	}
	c, err := env.OpenCache(env.Ctx, cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	guard, err := ratelimit.NewGuard(c, ratelimit.PoliciesFromConfig(cfg.Security.RateLimit))
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return guard, func() { c.Close() }, nil
}

// JobsCmd groups the translation job commands.
type JobsCmd struct {
	List    JobsListCmd    `cmd:"" help:"List recent jobs."`
	Status  JobsStatusCmd  `cmd:"" help:"Show the progress of a job."`
	Enqueue JobsEnqueueCmd `cmd:"" help:"Queue a chapter for translation."`
}

type JobsListCmd struct {
	Status string `help:"Only jobs with this status."`
	Limit  int    `help:"Maximum number of jobs." default:"20"`
}

func (c *JobsListCmd) Run(env *Env) error {
	svc, closeFn, err := openService(env)
	if err != nil {
		return err
	}
	defer closeFn()

	jobs, err := svc.ListJobs(env.Ctx, models.JobStatus(c.Status), c.Limit)
	if err != nil {
		return err
	}
	return printJSON(env.Out, jobs)
}

type JobsStatusCmd struct {
	JobID string `arg:"" help:"Job ID."`
}

func (c *JobsStatusCmd) Run(env *Env) error {
	svc, closeFn, err := openService(env)
	if err != nil {
		return err
	}
	defer closeFn()

	status, err := svc.JobStatus(env.Ctx, c.JobID)
	if err != nil {
		return err
	}
	return printJSON(env.Out, status)
}

type JobsEnqueueCmd struct {
	Book    string `arg:"" help:"Book name, e.g. John or 1 Corinthians."`
	Chapter string `arg:"" help:"Chapter number."`
	Lang    string `arg:"" help:"Target language code."`
}

// Run queues the job. The server's worker picks it up on its next poll.
func (c *JobsEnqueueCmd) Run(env *Env) error {
	svc, closeFn, err := openService(env)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := svc.StartJob(env.Ctx, c.Book, c.Chapter, c.Lang)
	if err != nil {
		return err
	}
	return printJSON(env.Out, resp)
}

func openService(env *Env) (*translation.Service, func(), error) {
	cfg, err := env.LoadCfg()
	if err != nil {
		return nil, nil, err
	}
	store, err := env.OpenStore(env.Ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c, err := env.OpenCache(env.Ctx, cfg.Cache)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	source, err := env.OpenText(env.Ctx, cfg.Content)
	if err != nil {
		c.Close()
		store.Close()
		return nil, nil, fmt.Errorf("failed to open content source: %w", err)
	}

	closeFn := func() {
		source.Close()
		c.Close()
		store.Close()
	}
	return translation.NewService(store, source, c), closeFn, nil
}

// ConfCmd groups the configuration commands.
type ConfCmd struct {
	Example ConfExampleCmd `cmd:"" help:"Write an example configuration file."`
}

type ConfExampleCmd struct {
	Path string `arg:"" help:"Destination file." type:"path"`
}

func (c *ConfExampleCmd) Run(env *Env) error {
	if err := config.SaveExample(c.Path); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Example configuration written to %s\n", c.Path)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(env *Env) error {
	fmt.Fprintln(env.Out, version.GetInfo().String())
	return nil
}

func newEnv(ctx context.Context, cli *CLI, out io.Writer) *Env {
	return &Env{
		Ctx:     ctx,
		Out:     out,
		LoadCfg: func() (*models.Config, error) { return config.Load(cli.Config) },
		OpenCache: func(ctx context.Context, cfg models.CacheConfig) (cache.Cache, error) {
			return cache.Open(ctx, cfg)
		},
		OpenStore: storage.NewFactory().Create,
		OpenText:  openContent,
	}
}

// openContent connects to the source text database. Without one, jobs can
// only be queued for books that need no source check.
func openContent(ctx context.Context, cfg models.ContentConfig) (content.Source, error) {
	if cfg.DSN == "" {
		return content.NewMemorySource(), nil
	}
	return content.NewPostgresSource(ctx, cfg.DSN, 2)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rbtctl"),
		kong.Description("Operator CLI for the RBT translation service."),
		kong.UsageOnError(),
	)
	err := kctx.Run(newEnv(ctx, &cli, os.Stdout))
	kctx.FatalIfErrorf(err)
}
