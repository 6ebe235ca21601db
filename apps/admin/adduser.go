package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/user"
)

type addUserOptions struct {
	name           string
	username       string
	email          string
	organizationID string
	roles          []string
	isAdmin        bool
}

func (cli *commandLine) newAddUserCmd() *cobra.Command {
	var opts addUserOptions
	cmd := &cobra.Command{
		Use:   "adduser --username USERNAME [--email EMAIL] [--admin]",
		Short: "Create a user, or reactivate & set the password of an existing one; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.username == "" && opts.email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), opts, pwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "user %s saved (id %s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "the user's full name")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "the user's username")
	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "the user's email")
	cmd.Flags().StringVar(&opts.organizationID, "org", "", "the user's organization id")
	cmd.Flags().StringSliceVar(&opts.roles, "role", nil, "the user's roles (repeatable)")
	cmd.Flags().BoolVar(&opts.isAdmin, "admin", false, "grant every role")
	return cmd
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, opts addUserOptions, pwd string) (user.User, error) {
	uname := core.CleanString(opts.username, true /* lower */)
	email := core.CleanString(opts.email, true /* lower */)
	lookup := uname
	if lookup == "" {
		lookup = email
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	exists := err == nil
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
		usr = user.User{
			OrganizationID: opts.organizationID,
			Name:           core.CleanString(opts.name),
			Username:       uname,
			Email:          email,
			CreatedAt:      now,
		}
		if usr.Name == "" {
			usr.Name = lookup
		}
	}

	switch {
	case opts.isAdmin:
		usr.Roles = user.AllRoles
	case len(opts.roles) > 0:
		usr.Roles = opts.roles
	}
	for _, role := range usr.Roles {
		if user.RolePriority(role) == 0 {
			return user.User{}, errors.Errorf("unknown role %q", role)
		}
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, errors.Wrap(err, "hashing password")
	}

	if exists {
		return cli.usrRepo.UpdateUser(ctx, usr)
	}
	return cli.usrRepo.CreateUser(ctx, usr)
}
