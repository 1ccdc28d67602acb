package main

import (
	"fmt"

	"github.com/go-extras/cobraflags"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/rbac"
)

func newRoleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Assign system roles the API refuses to delegate",
	}
	cmd.AddCommand(a.roleGrantCommand())
	return cmd
}

// roleGrantCommand is the only way to create the first super admin; the API
// lets a super admin delegate the role but never a tenant admin.
func (a *app) roleGrantCommand() *cobra.Command {
	flags := lifecycleFlags()
	cmd := &cobra.Command{
		Use:   "grant <tenant-id> <user-id> <role-name>",
		Short: "Assign a system role to a user in a tenant",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("tenant id: %w", err)
			}
			userID, roleName := args[1], args[2]

			resolver := rbac.NewResolver(a.store, rbac.WithLogger(obs.Logger()))
			if err := resolver.AssignSystemRole(ctx, userID, tenantID, roleName); err != nil {
				return err
			}

			ledger := audit.New(a.store, audit.WithLogger(obs.Logger()))
			if _, err := ledger.Record(ctx, audit.Event{
				TenantID:     tenantID,
				ActorID:      operator(),
				ActorRole:    "operator",
				Action:       "rbac.role.assign",
				ResourceType: "user",
				ResourceID:   userID,
				Success:      true,
				Source:       audit.SystemSource{Reason: flags[reasonFlag].GetString(), Component: "tenantctl"},
				Details:      map[string]any{"role": roleName},
			}); err != nil {
				return fmt.Errorf("role assigned but audit record failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", tenantID, userID, roleName)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}
