package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		id, key, plan string
		maxUsage      float64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := accounts.NewAccount{ID: id, APIKey: key, Plan: plan}
			if cmd.Flags().Changed("max-usage") {
				if maxUsage < 0 {
					return fmt.Errorf("--max-usage must not be negative")
				}
				in.MaxUsagePerDay = &maxUsage
			}
			acc, err := a.store.Create(cmd.Context(), in, a.now())
			switch {
			case errors.Is(err, accounts.ErrAccountExists):
				return fmt.Errorf("account %s already exists; use set-plan or set-quota to change it: %w", id, err)
			case errors.Is(err, accounts.ErrAPIKeyTaken):
				return fmt.Errorf("api key is owned by another account: %w", err)
			case err != nil:
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (generated when empty)")
	cmd.Flags().StringVar(&key, "key", "", "API key (generated when empty)")
	cmd.Flags().StringVar(&plan, "plan", models.PlanFree, "plan name")
	cmd.Flags().Float64Var(&maxUsage, "max-usage", 0, "daily usage ceiling overriding the plan default")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newWhoisCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whois <api-key>",
		Short: "Find the account owning an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.store.GetByAPIKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accs, err := a.store.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			return a.printAccounts(cmd.OutOrStdout(), accs)
		},
	}
}

func newBannedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "banned",
		Short: "List banned accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accs, err := a.store.ListBanned(cmd.Context())
			if err != nil {
				return err
			}
			return a.printAccounts(cmd.OutOrStdout(), accs)
		},
	}
}

func newBanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ban <id>",
		Short: "Ban an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Ban(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "banned %s\n", args[0])
			return nil
		},
	}
}

func newUnbanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unban <id>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Unban(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s\n", args[0])
			return nil
		},
	}
}

func newSetPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-plan <id> <plan>",
		Short: "Change an account's plan; the daily quota follows unless overridden",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := args[1]
			acc, err := a.store.Update(cmd.Context(), args[0], accounts.Update{Plan: &plan})
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newSetQuotaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-quota <id> <max-usage-per-day>",
		Short: "Override an account's daily usage ceiling",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quota, err := strconv.ParseFloat(args[1], 64)
			if err != nil || quota < 0 {
				return fmt.Errorf("invalid quota %q", args[1])
			}
			acc, err := a.store.Update(cmd.Context(), args[0], accounts.Update{MaxUsagePerDay: &quota})
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newRotateKeyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <id>",
		Short: "Issue a new API key; the old one stops working immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := accounts.GenerateAPIKey()
			if err != nil {
				return err
			}
			acc, err := a.store.Update(cmd.Context(), args[0], accounts.Update{APIKey: &key})
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newResetUsageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage <id>",
		Short: "Zero today's usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.accountant.ResetUsage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printAccount(cmd.OutOrStdout(), acc)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account with its key and ban entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) printAccount(w io.Writer, acc models.Account) error {
	if a.asJSON {
		return writeIndented(w, acc)
	}
	_, err := fmt.Fprintf(w,
		"id: %s\napi_key: %s\nplan: %s\nbanned: %t\nusage: %g / %g\ntotal_usage: %g\nlast_reset: %s\n",
		acc.ID, acc.APIKey, acc.Plan, acc.Banned, acc.Usage, acc.MaxUsagePerDay, acc.TotalUsageAllTime,
		time.Unix(acc.LastReset, 0).UTC().Format(time.RFC3339))
	return err
}

func (a *app) printAccounts(w io.Writer, accs []models.Account) error {
	if a.asJSON {
		if accs == nil {
			accs = []models.Account{}
		}
		return writeIndented(w, accs)
	}
	for _, acc := range accs {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%g/%g\tbanned=%t\n", acc.ID, acc.Plan, acc.Usage, acc.MaxUsagePerDay, acc.Banned); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
