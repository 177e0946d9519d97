package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"bookmanager/internal/circulation"
	"bookmanager/internal/clients"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newLoanCmd() *cobra.Command {
	remote := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "Borrow, return, renew and list loans on a running server",
	}
	remote.registerPersistent(cmd)
	cmd.AddCommand(
		newLoanBorrowCmd(remote),
		newLoanReturnCmd(remote),
		newLoanRenewCmd(remote),
		newLoanListCmd(remote),
	)
	return cmd
}

func newLoanBorrowCmd(remote *remoteFlags) *cobra.Command {
	var req circulation.BorrowRequest
	cmd := &cobra.Command{
		Use:     "borrow",
		Short:   "Lend a copy of a title to a reader",
		Example: `  bookmanager loan borrow --title 4 --reader 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := c.Borrow(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
	cmd.Flags().Int64Var(&req.TitleID, "title", 0, "Title id")
	cmd.Flags().Int64Var(&req.ReaderID, "reader", 0, "Reader id")
	cmd.Flags().Int64Var(&req.CopyID, "copy", 0, "Specific copy id (optional)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("reader")
	return cmd
}

func newLoanReturnCmd(remote *remoteFlags) *cobra.Command {
	var outcome string
	cmd := &cobra.Command{
		Use:     "return LOAN_ID",
		Short:   "Close a loan",
		Example: `  bookmanager loan return 31 --outcome lost`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLoanID(args[0])
			if err != nil {
				return err
			}
			o, ok := circulation.ParseOutcome(outcome)
			if !ok {
				return fmt.Errorf("unknown outcome %q", outcome)
			}
			c, err := remote.client(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := c.Return(cmd.Context(), id, o)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "returned", "returned, lost or damaged")
	return cmd
}

func newLoanRenewCmd(remote *remoteFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "renew LOAN_ID",
		Short: "Extend a loan by one loan period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLoanID(args[0])
			if err != nil {
				return err
			}
			c, err := remote.client(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := c.Renew(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanListCmd(remote *remoteFlags) *cobra.Command {
	var (
		f      circulation.LoanFilter
		status string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List loans",
		Example: `  bookmanager loan list --reader 12 --overdue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = circulation.LoanStatus(status)
			c, err := remote.client(cmd.Context())
			if err != nil {
				return err
			}
			loans, err := c.ListLoans(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loans)
		},
	}
	cmd.Flags().Int64Var(&f.ReaderID, "reader", 0, "Only loans of this reader")
	cmd.Flags().Int64Var(&f.TitleID, "title", 0, "Only loans of this title")
	cmd.Flags().StringVar(&status, "status", "", "OUT, RETURNED, LOST or DAMAGED")
	cmd.Flags().BoolVar(&f.OverdueOnly, "overdue", false, "Only open loans past their due date")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "Page size")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "Page offset")
	return cmd
}

func (f *remoteFlags) registerPersistent(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", envOr("BOOKMANAGER_SERVER", "http://localhost:8080"), "Base URL of a running bookmanager")
	cmd.PersistentFlags().StringVar(&f.username, "username", os.Getenv("BOOKMANAGER_USERNAME"), "Login username")
	cmd.PersistentFlags().StringVar(&f.password, "password", os.Getenv("BOOKMANAGER_PASSWORD"), "Login password")
	cmd.PersistentFlags().StringVar(&f.token, "token", os.Getenv("BOOKMANAGER_TOKEN"), "Bearer token, instead of username and password")
}

// client returns an authenticated API client.
func (f *remoteFlags) client(ctx context.Context) (*clients.Client, error) {
	if f.token != "" {
		return clients.New(f.server, clients.WithToken(f.token)), nil
	}
	if f.username == "" {
		return nil, errors.New("--token or --username is required")
	}
	c := clients.New(f.server)
	if _, err := c.Login(ctx, f.username, f.password); err != nil {
		return nil, err
	}
	return c, nil
}

func parseLoanID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid loan id %q", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
