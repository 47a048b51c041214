package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/postscan/internal/auth"
	"github.com/vrsandeep/postscan/internal/core"
	"github.com/vrsandeep/postscan/internal/models"
)

func newUsersCommand(ctx *commandContext) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage API accounts",
	}
	usersCmd.AddCommand(newUsersCreateCommand(ctx))
	usersCmd.AddCommand(newUsersListCommand(ctx))
	return usersCmd
}

func newUsersCreateCommand(ctx *commandContext) *cobra.Command {
	var role, password string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account; a random password is printed when none is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != models.RoleAdmin && role != models.RoleUser {
				return fmt.Errorf("role must be %q or %q", models.RoleAdmin, models.RoleUser)
			}
			generated := password == ""
			if generated {
				var err error
				if password, err = auth.GeneratePassword(16); err != nil {
					return err
				}
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return ctx.withApp(func(app *core.App) error {
				user, err := app.Store().CreateUser(args[0], hash, role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %d)\n", user.Role, user.Username, user.ID)
				if generated {
					fmt.Fprintf(cmd.OutOrStdout(), "Password: %s\n", password)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", models.RoleUser, "Role (admin or user)")
	cmd.Flags().StringVar(&password, "password", "", "Password (generated when empty)")
	return cmd
}

func newUsersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(app *core.App) error {
				users, err := app.Store().ListUsers()
				if err != nil {
					return err
				}
				for _, u := range users {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", u.ID, u.Username, u.Role)
				}
				return nil
			})
		},
	}
}
