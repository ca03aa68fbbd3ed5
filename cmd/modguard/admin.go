package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/Strob0t/ModGuard/internal/adapter/hashembed"
	"github.com/Strob0t/ModGuard/internal/adapter/litellm"
	"github.com/Strob0t/ModGuard/internal/adapter/postgres"
	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/service"
	"github.com/Strob0t/ModGuard/internal/similarity"
)

// runAdmin dispatches admin subcommands (migrate, stats, reset-collection, seed-policies).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "stats":
		return runAdminStats(args[1:])
	case "reset-collection":
		return runAdminResetCollection(args[1:])
	case "seed-policies":
		return runAdminSeedPolicies(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: modguard admin <command> [options]

Commands:
  migrate            Apply, roll back or show database migrations
  stats              Print case and queue statistics
  reset-collection   Delete every record of a similarity collection
  seed-policies      Index policy documents into the policy collection
  help               Show this help message

Examples:
  modguard admin migrate
  modguard admin migrate --down 1
  modguard admin stats --window 24h
  modguard admin reset-collection --name flagged_content
  modguard admin seed-policies --file policies.yaml
`)
}

type adminDeps struct {
	cfg  *config.Config
	pool *pgxpool.Pool
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return &adminDeps{cfg: cfg, pool: pool}, pool.Close, nil
}

// similarityService opens the persisted index for admin commands.
func (d *adminDeps) similarityService(ctx context.Context) (*service.SimilarityService, error) {
	index := similarity.New(similarity.Options{
		MaxDistance: d.cfg.Similarity.MaxDistance,
		Store:       postgres.NewVectorStore(d.pool),
	})
	if err := index.Load(ctx); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	var embedder llm.Embedder
	if d.cfg.Similarity.Embedder == "hash" {
		embedder = hashembed.New(d.cfg.Similarity.HashDimension)
	} else {
		embedder = litellm.NewClient(litellm.Options{
			BaseURL:        d.cfg.LiteLLM.URL,
			MasterKey:      d.cfg.LiteLLM.MasterKey,
			Model:          d.cfg.LiteLLM.Model,
			EmbeddingModel: d.cfg.LiteLLM.EmbeddingModel,
		})
	}
	return service.NewSimilarityService(index, embedder, &d.cfg.Similarity), nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations")
	status := fs.Bool("status", false, "print the current version only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch {
	case *status:
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Database at migration version %d\n", v)
	return nil
}

func runAdminStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	window := fs.Duration("window", 24*time.Hour, "window for recent cases")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	statsSvc := service.NewStatsService(postgres.NewStore(deps.pool), &deps.cfg.Scheduler)
	snap, err := statsSvc.Snapshot(ctx, *window)
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "TOTAL CASES\t%d\n", snap.TotalCases)
	_, _ = fmt.Fprintf(w, "RECENT (%s)\t%d\n", *window, snap.RecentCases)
	_, _ = fmt.Fprintf(w, "PENDING QUEUE\t%d\n", snap.PendingQueue)
	_, _ = fmt.Fprintf(w, "PENDING APPEALS\t%d\n", snap.PendingAppeals)
	decisions := make([]string, 0, len(snap.ByDecision))
	for d := range snap.ByDecision {
		decisions = append(decisions, d)
	}
	sort.Strings(decisions)
	for _, d := range decisions {
		_, _ = fmt.Fprintf(w, "DECISION %s\t%d\n", strings.ToUpper(d), snap.ByDecision[d])
	}
	return w.Flush()
}

func runAdminResetCollection(args []string) error {
	fs := flag.NewFlagSet("reset-collection", flag.ContinueOnError)
	name := fs.String("name", "", "collection name (required)")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !slices.Contains(similarity.Collections, *name) {
		return fmt.Errorf("--name must be one of %s", strings.Join(similarity.Collections, ", "))
	}

	if !*yes {
		ok, err := confirm(fmt.Sprintf("Type %q to delete every record of this collection: ", *name), *name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sim, err := deps.similarityService(ctx)
	if err != nil {
		return err
	}
	before := sim.Counts()[*name]
	if err := sim.Reset(ctx, *name); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Deleted %d records from %s\n", before, *name)
	return nil
}

func runAdminSeedPolicies(args []string) error {
	fs := flag.NewFlagSet("seed-policies", flag.ContinueOnError)
	file := fs.String("file", "", "YAML policy file (built-in policies if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	docs, err := service.DefaultPolicies()
	if *file != "" {
		docs, err = service.LoadPolicies(*file)
	}
	if err != nil {
		return fmt.Errorf("policies: %w", err)
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sim, err := deps.similarityService(ctx)
	if err != nil {
		return err
	}
	n, err := service.SeedPolicies(ctx, sim, docs)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Seeded %d policies (%d indexed)\n", n, sim.Counts()[similarity.CollectionPolicy])
	return nil
}

// confirm asks for want on an interactive terminal. Without a terminal
// it refuses; pass --yes instead.
func confirm(prompt, want string) (bool, error) {
	if !term.IsTerminal(int(syscall.Stdin)) { //nolint:unconvert // int conversion needed on some platforms
		return false, fmt.Errorf("stdin is not a terminal, pass --yes to confirm")
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line) == want, nil
}
