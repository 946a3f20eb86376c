package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/paydesk/internal/auth"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	"github.com/smallbiznis/paydesk/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage local accounts",
	}
	cmd.AddCommand(createUserCmd())
	return cmd
}

func createUserCmd() *cobra.Command {
	var req authdomain.CreateUserRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user, optionally with staff access",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Username == "" || req.Password == "" {
				return errors.New("--username and --password are required")
			}

			var authSvc authdomain.Service
			app := fx.New(
				fx.NopLogger,
				infrastructure(),
				migration.Module,
				auth.Module,
				fx.Populate(&authSvc),
			)
			return runOnce(app, func(ctx context.Context) error {
				user, err := authSvc.CreateUser(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id=%s, staff=%t)\n", user.Username, user.ID.String(), user.IsStaff)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "login name")
	cmd.Flags().StringVar(&req.Password, "password", "", "password, at least 8 characters")
	cmd.Flags().StringVar(&req.Email, "email", "", "optional email address")
	cmd.Flags().BoolVar(&req.IsStaff, "staff", false, "grant access to the admin payment list")
	return cmd
}
