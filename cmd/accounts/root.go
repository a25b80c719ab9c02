package main

import (
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
)

type app struct {
	store      accounts.Store
	accountant *accounts.Accountant
	now        func() time.Time
	asJSON     bool
}

func newApp(store accounts.Store) *app {
	return &app{
		store:      store,
		accountant: accounts.NewAccountant(store),
		now:        time.Now,
	}
}

// wireApp connects to the account store the gateway uses.
func wireApp() (*app, error) {
	opt, err := redis.ParseURL(envOrDefault("REDIS_URL", "redis://localhost:6379"))
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	return newApp(accounts.NewRedisStore(client, accounts.WithKeyPrefix(os.Getenv("REDIS_KEY_PREFIX")))), nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd(a *app, wireErr error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "astra-accounts",
		Short:        "Manage gateway accounts: provisioning, plans, bans, keys and usage",
		SilenceUsage: true,
	}

	if wireErr != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return wireErr
		}
		return rootCmd
	}

	rootCmd.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(
		newCreateCmd(a),
		newGetCmd(a),
		newWhoisCmd(a),
		newListCmd(a),
		newBannedCmd(a),
		newBanCmd(a),
		newUnbanCmd(a),
		newSetPlanCmd(a),
		newSetQuotaCmd(a),
		newRotateKeyCmd(a),
		newResetUsageCmd(a),
		newDeleteCmd(a),
	)

	return rootCmd
}
