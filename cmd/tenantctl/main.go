// Command tenantctl is the operator tool for work outside the API, such as
// schema migrations, audit chain verification, tenant lifecycle changes and
// operator role grants.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tenantcore.io/internal/config"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/store/pg"
)

type app struct {
	cfg   *config.Config
	dsn   string
	store *pg.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Operate the tenant core database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			obs.SetLogger(obs.NewLogger(os.Stderr, cfg.LogLevel))
			if a.dsn == "" {
				a.dsn = cfg.DatabaseURL
			}
			if a.dsn == "" {
				return fmt.Errorf("missing DSN: provide --dsn or DATABASE_URL")
			}
			a.store, err = pg.Open(a.dsn)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		},
	}
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL)")

	root.AddCommand(newMigrateCommand(a))
	root.AddCommand(newAuditCommand(a))
	root.AddCommand(newTenantCommand(a))
	root.AddCommand(newRoleCommand(a))
	return root
}
