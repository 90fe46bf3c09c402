package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Strob0t/EvalForge/internal/adapter/postgres"
	"github.com/Strob0t/EvalForge/internal/config"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/service"
)

const adminUsage = `usage: evalforge admin <command> [flags]

commands:
  create-user     -email -name -role [-team]   register a user
  list-users                                   print all users
  create-api-key  -email -name                 mint an API key (printed once)
  rebuild-closure                              recompute the org closure table
`

// runAdmin executes one administrative command against the configured
// database and exits. It bypasses HTTP auth entirely, so it is only as safe
// as access to the server host.
func runAdmin(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, adminUsage)
		return fmt.Errorf("missing admin command")
	}

	cfg, _, err := config.LoadWithCLI(config.CLIFlags{})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	store := postgres.NewStore(pool)
	adminSvc := service.NewAdminService(store, log)
	authSvc := service.NewAuthService(store, cfg.Auth, log)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create-user":
		fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
		email := fs.String("email", "", "user email")
		name := fs.String("name", "", "display name")
		role := fs.String("role", string(user.RoleEmployee), "EMPLOYEE|MANAGER|GM|VP|ADMIN")
		team := fs.String("team", "", "org unit id for the role's level")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		u, err := adminSvc.CreateUser(ctx, &user.CreateRequest{
			Email:      *email,
			Name:       *name,
			Role:       user.Role(*role),
			TeamUnitID: *team,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created user %s (%s)\n", u.Email, u.ID)
		return nil

	case "list-users":
		users, err := adminSvc.ListUsers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tTEAM\tACTIVE")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", u.Email, u.Name, u.Role, u.TeamUnitID, u.Active)
		}
		return tw.Flush()

	case "create-api-key":
		fs := flag.NewFlagSet("create-api-key", flag.ContinueOnError)
		email := fs.String("email", "", "key owner email")
		name := fs.String("name", "", "key label")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		resp, err := authSvc.CreateAPIKey(ctx, user.CreateAPIKeyRequest{UserEmail: *email, Name: *name})
		if err != nil {
			return err
		}
		fmt.Printf("key id: %s\nplain key (store it now, it is not shown again):\n%s\n", resp.APIKey.ID, resp.PlainKey)
		return nil

	case "rebuild-closure":
		if err := adminSvc.RebuildClosure(ctx); err != nil {
			return err
		}
		fmt.Println("org closure rebuilt")
		return nil

	default:
		fmt.Fprint(os.Stderr, adminUsage)
		return fmt.Errorf("unknown admin command %q", cmd)
	}
}
