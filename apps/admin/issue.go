package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/wastewise/core/certification"
)

func (cli *commandLine) newIssueCmd() *cobra.Command {
	var (
		req      certification.IssueCertificate
		issuedAt string
	)
	cmd := &cobra.Command{
		Use:   "issue --progress ID [--number NUMBER] [--issued-at YYYY-MM-DD]",
		Short: "Issue the certificate of an approved certification progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.ProgressID == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if issuedAt != "" {
				t, err := time.Parse("2006-01-02", issuedAt)
				if err != nil {
					return errors.Wrap(err, "parsing --issued-at")
				}
				req.IssuedAt = t
			}
			uc, err := cli.issue(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "certificate %s issued\n", uc.CertificateNumber)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ProgressID, "progress", "", "the approved certification progress id")
	cmd.Flags().StringVar(&req.CertificateNumber, "number", "", "the certificate number (generated when empty)")
	cmd.Flags().StringVar(&issuedAt, "issued-at", "", "the issue date (the approval date when empty)")
	return cmd
}

func (cli *commandLine) issue(ctx context.Context, req certification.IssueCertificate) (certification.UserCertification, error) {
	if err := req.Validate(cli.validate); err != nil {
		return certification.UserCertification{}, err
	}
	svc := certification.NewService(cli.certRepo, cli.certRepo, cli.certRepo, cli.logger)
	return svc.IssueCertificate(ctx, req)
}
