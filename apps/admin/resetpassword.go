package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/wastewise/core/user"
)

func (cli *commandLine) newResetPasswordCmd() *cobra.Command {
	var uname string
	cmd := &cobra.Command{
		Use:   "resetpassword --username USERNAME|EMAIL",
		Short: "Reset a user's password; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if uname == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			return cli.resetPassword(uname, pwd)
		},
	}
	cmd.Flags().StringVarP(&uname, "username", "u", "", "the user's username or email")
	return cmd
}

func (cli *commandLine) resetPassword(uname, pwd string) error {
	if _, err := user.NewService(cli.usrRepo).ResetPassword(uname, pwd); err != nil {
		return err
	}
	cli.logger.Info("password reset", map[string]interface{}{"username": uname})
	return nil
}
