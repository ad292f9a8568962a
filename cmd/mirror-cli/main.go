// mirror-cli - herramientas operativas para el core de replicación.
//
// Opera directamente sobre el Store y el journal; no necesita el engine
// corriendo. Los cambios de multiplicadores se notifican vía pg_notify para
// que un core activo invalide su cache.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/xKoRx/mirror/domain"
	"github.com/xKoRx/mirror/internal"
	"github.com/xKoRx/mirror/internal/repository"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "multiplier":
		runMultiplier(os.Args[2:])
	case "blacklist":
		runBlacklist(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "comando desconocido: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `mirror-cli - herramientas operativas para Mirror Core

Uso:
  mirror-cli multiplier set --follower <id> --symbol <sym> --value <mult>
  mirror-cli multiplier remove --follower <id> --symbol <sym>
  mirror-cli multiplier list --follower <id>
  mirror-cli blacklist add --follower <id> --symbol <sym> [--reason manual]
  mirror-cli blacklist remove --follower <id> --symbol <sym>
  mirror-cli blacklist list
  mirror-cli queue list [--follower <id>]

Comandos:
  multiplier   Administra overrides de multiplicador por símbolo.
  blacklist    Administra la supresión de réplica por símbolo.
  queue        Inspecciona las acciones encoladas en el journal local.
`
	fmt.Fprintln(os.Stderr, usage)
}

// openStore carga config desde ETCD y abre PostgreSQL con reintentos.
func openStore(ctx context.Context) (*internal.Config, *sql.DB) {
	cfg, err := internal.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error cargando configuración: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.PostgresConnStr())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error abriendo postgres: %v\n", err)
		os.Exit(1)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, policy); err != nil {
		fmt.Fprintf(os.Stderr, "error conectando a postgres: %v\n", err)
		os.Exit(1)
	}

	return cfg, db
}

func notifyMultiplierChange(ctx context.Context, db *sql.DB, followerID, symbol string) {
	if _, err := db.ExecContext(ctx,
		`SELECT pg_notify('mirror_multiplier_updated', $1)`, followerID+":"+symbol); err != nil {
		fmt.Fprintf(os.Stderr, "advertencia: pg_notify falló: %v\n", err)
	}
}

func runMultiplier(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("multiplier "+subcommand, flag.ExitOnError)
	follower := fs.String("follower", "", "ID del follower")
	symbol := fs.String("symbol", "", "Símbolo del instrumento")
	value := fs.Float64("value", 0, "Multiplicador a fijar")
	timeout := fs.Duration("timeout", 15*time.Second, "Timeout de la operación")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	if *follower == "" {
		fmt.Fprintln(os.Stderr, "--follower es requerido")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	_, db := openStore(ctx)
	defer db.Close()
	repos := repository.NewPostgresFactory(db)

	switch subcommand {
	case "set":
		if *symbol == "" || *value <= 0 {
			fmt.Fprintln(os.Stderr, "--symbol y --value > 0 son requeridos")
			os.Exit(1)
		}
		err := repos.MultiplierRepository().UpsertSymbolOverride(ctx, domain.SymbolOverride{
			FollowerID: *follower,
			Symbol:     *symbol,
			Multiplier: *value,
			Source:     domain.MultiplierSourceUserOverride,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error fijando multiplicador: %v\n", err)
			os.Exit(1)
		}
		notifyMultiplierChange(ctx, db, *follower, *symbol)
		fmt.Printf("override fijado: %s %s → %.4f (user_override)\n", *follower, *symbol, *value)

	case "remove":
		if *symbol == "" {
			fmt.Fprintln(os.Stderr, "--symbol es requerido")
			os.Exit(1)
		}
		if err := repos.MultiplierRepository().DeleteSymbolOverride(ctx, *follower, *symbol); err != nil {
			fmt.Fprintf(os.Stderr, "error eliminando multiplicador: %v\n", err)
			os.Exit(1)
		}
		notifyMultiplierChange(ctx, db, *follower, *symbol)
		fmt.Printf("override eliminado: %s %s\n", *follower, *symbol)

	case "list":
		overrides, err := repos.MultiplierRepository().LoadSymbolOverrides(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listando multiplicadores: %v\n", err)
			os.Exit(1)
		}
		for _, o := range overrides {
			if o.FollowerID != *follower {
				continue
			}
			fmt.Printf("%-10s %-8s %.4f (%s)\n", o.FollowerID, o.Symbol, o.Multiplier, o.Source)
		}

	default:
		fmt.Fprintf(os.Stderr, "subcomando multiplier desconocido: %s\n", subcommand)
		os.Exit(1)
	}
}

func runBlacklist(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("blacklist "+subcommand, flag.ExitOnError)
	follower := fs.String("follower", "", "ID del follower")
	symbol := fs.String("symbol", "", "Símbolo del instrumento")
	reason := fs.String("reason", internal.BlacklistReasonManual, "Razón de la supresión")
	timeout := fs.Duration("timeout", 15*time.Second, "Timeout de la operación")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	_, db := openStore(ctx)
	defer db.Close()
	repos := repository.NewPostgresFactory(db)

	switch subcommand {
	case "add":
		if *follower == "" || *symbol == "" {
			fmt.Fprintln(os.Stderr, "--follower y --symbol son requeridos")
			os.Exit(1)
		}
		err := repos.BlacklistRepository().Insert(ctx, domain.BlacklistEntry{
			FollowerID: *follower,
			Symbol:     *symbol,
			Reason:     *reason,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error agregando al blacklist: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("blacklist: %s %s (%s)\n", *follower, *symbol, *reason)

	case "remove":
		if *follower == "" || *symbol == "" {
			fmt.Fprintln(os.Stderr, "--follower y --symbol son requeridos")
			os.Exit(1)
		}
		if err := repos.BlacklistRepository().Delete(ctx, *follower, *symbol); err != nil {
			fmt.Fprintf(os.Stderr, "error eliminando del blacklist: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("blacklist eliminado: %s %s\n", *follower, *symbol)

	case "list":
		entries, err := repos.BlacklistRepository().LoadAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listando blacklist: %v\n", err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%-10s %-8s %s\n", e.FollowerID, e.Symbol, e.Reason)
		}

	default:
		fmt.Fprintf(os.Stderr, "subcomando blacklist desconocido: %s\n", subcommand)
		os.Exit(1)
	}
}

func runQueue(args []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	fs := flag.NewFlagSet("queue "+subcommand, flag.ExitOnError)
	follower := fs.String("follower", "", "Filtrar por follower")
	timeout := fs.Duration("timeout", 15*time.Second, "Timeout de la operación")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := internal.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error cargando configuración: %v\n", err)
		os.Exit(1)
	}

	switch subcommand {
	case "list":
		journal, err := internal.OpenActionJournal(cfg.JournalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error abriendo journal: %v\n", err)
			os.Exit(1)
		}
		defer journal.Close()

		actions, err := journal.Restore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error leyendo journal: %v\n", err)
			os.Exit(1)
		}
		for _, a := range actions {
			if *follower != "" && a.FollowerID != *follower {
				continue
			}
			ts := time.UnixMilli(a.Timestamp).Format(time.RFC3339)
			fmt.Printf("%s  %-10s %-14s %-8s %s\n", ts, a.FollowerID, a.Type, a.Symbol, a.ID)
		}

	default:
		fmt.Fprintf(os.Stderr, "subcomando queue desconocido: %s\n", subcommand)
		os.Exit(1)
	}
}
