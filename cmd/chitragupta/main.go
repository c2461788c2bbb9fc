// Command chitragupta inspects and administers a chitragupta runtime:
// environment detection, routing decisions, session search, and the duty
// ledger, all against the configured store backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samskara-labs/chitragupta"
	"github.com/samskara-labs/chitragupta/internal/config"
	"github.com/samskara-labs/chitragupta/kartavya"
	"github.com/samskara-labs/chitragupta/marga"
	"github.com/samskara-labs/chitragupta/observer"
	"github.com/samskara-labs/chitragupta/session"
	"github.com/samskara-labs/chitragupta/store/postgres"
	"github.com/samskara-labs/chitragupta/store/sqlite"
)

// backend is what both store drivers provide.
type backend interface {
	session.Index
	marga.Sink
	kartavya.Store
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(os.Getenv("CHITRAGUPTA_CONFIG"))

	// 2. Open the store backend
	var store backend
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	default:
		st := sqlite.New(cfg.Store.Path)
		defer st.Close()
		store = st
	}

	var index session.Index = store
	var sink marga.Sink = store

	// 3. Observability, when enabled
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(ctx)
		index = observer.WrapIndex(index, inst)
		sink = observer.WrapSink(sink, inst)
	}

	if err := index.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}

	sessions := session.NewStore(cfg.Session.Dir, index)

	switch os.Args[1] {
	case "env":
		runEnv()
	case "route":
		runRoute(ctx, cfg, sink, os.Args[2:])
	case "sessions":
		runSessions(ctx, index, os.Args[2:])
	case "search":
		runSearch(ctx, sessions, os.Args[2:])
	case "duties":
		runDuties(ctx, store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: chitragupta <command>

  env                 detect host capabilities and recommend a provider
  route <message>     run the routing pipeline and print the decision
  sessions [project]  list indexed sessions
  search <query>      full-text search over session turns
  duties [project]    list the duty ledger`)
}

func runEnv() {
	env := chitragupta.DetectEnvironment()
	fmt.Printf("os: %s/%s\n", env.OS, env.Arch)
	fmt.Printf("nvidia: %v\n", env.HasNVIDIA)
	if len(env.LocalBackends) > 0 {
		fmt.Printf("local backends: %s\n", strings.Join(env.LocalBackends, ", "))
	}
	for _, k := range env.APIKeys {
		fmt.Printf("api key: %s (%s)\n", k.Provider, k.EnvVar)
	}
	fmt.Printf("recommended provider: %s\n", chitragupta.RecommendedProvider(env))
}

func runRoute(ctx context.Context, cfg config.Config, sink marga.Sink, args []string) {
	if len(args) < 1 {
		log.Fatal("route: message required")
	}
	d := marga.Route(marga.Input{
		Message:  strings.Join(args, " "),
		Strategy: marga.Strategy(cfg.Routing.Strategy),
	})
	if err := sink.SaveDecision(ctx, "", d); err != nil {
		log.Printf("save decision: %v", err)
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))
}

func runSessions(ctx context.Context, index session.Index, args []string) {
	project := ""
	if len(args) > 0 {
		project = args[0]
	}
	metas, err := index.ListSessions(ctx, project)
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}
	for _, m := range metas {
		fmt.Printf("%s  %-20s  %d turns  $%.4f  %s\n", m.ID, m.Project, m.TurnCount, m.Cost, m.Title)
	}
}

func runSearch(ctx context.Context, sessions *session.Store, args []string) {
	if len(args) < 1 {
		log.Fatal("search: query required")
	}
	results, err := sessions.SearchSessions(ctx, strings.Join(args, " "), "")
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for _, r := range results {
		fmt.Printf("%.3f  %s  %s\n", r.Score, r.Meta.ID, r.Snippet)
	}
}

func runDuties(ctx context.Context, store kartavya.Store, args []string) {
	project := ""
	if len(args) > 0 {
		project = args[0]
	}
	duties, err := store.ListDuties(ctx, project)
	if err != nil {
		log.Fatalf("list duties: %v", err)
	}
	for _, d := range duties {
		fmt.Printf("%s  %-9s  %-9s  conf %.2f  %d/%d ok  %s\n",
			d.ID, d.Status, d.Trigger.Type, d.Confidence,
			d.SuccessCount, d.SuccessCount+d.FailureCount, d.Name)
	}
}
