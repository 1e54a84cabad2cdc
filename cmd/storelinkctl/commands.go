package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryan0dhankhar/storelink/internal/domain"
	"github.com/aryan0dhankhar/storelink/internal/repository"
	"github.com/aryan0dhankhar/storelink/internal/security/auth"
	"github.com/aryan0dhankhar/storelink/internal/security/signedpayload"
	"github.com/aryan0dhankhar/storelink/pkg/config"
	"github.com/aryan0dhankhar/storelink/pkg/database"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storelinkctl",
		Short:         "Operate a storelink deployment",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSignPayloadCmd(), newCustomerTokenCmd(), newMigrateCmd(), newUsersCmd())
	return root
}

func newSignPayloadCmd() *cobra.Command {
	var secret, storeHash, email, event, code string
	var userID int64
	var asQuery bool

	cmd := &cobra.Command{
		Use:   "sign-payload",
		Short: "Produce a signed_payload as the platform would send it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			body := map[string]any{
				"user":       map[string]any{"id": userID, "email": email},
				"owner":      map[string]any{"id": userID, "email": email},
				"context":    "stores/" + storeHash,
				"store_hash": storeHash,
				"timestamp":  float64(time.Now().UnixNano()) / 1e9,
			}
			if event != "" {
				body["event"] = event
			}
			if code != "" {
				body["oauth_code"] = code
			}
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			signed := signedpayload.Sign(raw, []byte(secret))
			if asQuery {
				signed = "signed_payload=" + url.QueryEscape(signed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", "", "app client secret")
	f.StringVar(&storeHash, "store-hash", "", "store hash")
	f.StringVar(&email, "email", "", "user email")
	f.Int64Var(&userID, "user-id", 1, "platform user id")
	f.StringVar(&event, "event", "", "event name for /events (load, uninstall, add-user, remove-user)")
	f.StringVar(&code, "code", "", "one-time authorization code for add-user")
	f.BoolVar(&asQuery, "query", false, "print as a URL query parameter")
	_ = cmd.MarkFlagRequired("store-hash")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCustomerTokenCmd() *cobra.Command {
	var secret, customerID, storeHash string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "customer-token",
		Short: "Mint a storefront customer JWT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			token, err := auth.NewTokenManager(secret, "").GenerateToken(customerID, storeHash, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", "", "app client secret")
	f.StringVar(&customerID, "customer-id", "", "storefront customer id")
	f.StringVar(&storeHash, "store-hash", "", "store hash")
	f.DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	_ = cmd.MarkFlagRequired("customer-id")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd.Context(), func(pool *database.ConnectionPool) error {
				if err := database.Apply(cmd.Context(), pool.GetDB()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func newUsersCmd() *cobra.Command {
	var storeHash string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the users associated with a store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withPool(ctx, func(pool *database.ConnectionPool) error {
				tenancy := repository.NewSQLTenancyStore(pool.GetDB(), quietLogger())
				store, err := tenancy.GetStoreByHash(ctx, storeHash)
				if err != nil {
					return err
				}
				users, err := tenancy.ListStoreUsers(ctx, store.ID)
				if err != nil {
					return err
				}
				return printUsers(cmd.OutOrStdout(), store.AdminUserID, users)
			})
		},
	}
	cmd.Flags().StringVar(&storeHash, "store-hash", "", "store hash")
	_ = cmd.MarkFlagRequired("store-hash")
	return cmd
}

func printUsers(w io.Writer, adminUserID string, users []*domain.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tSINCE")
	for _, u := range users {
		role := "user"
		if u.ID == adminUserID {
			role = "admin"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, role, u.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// withPool opens the database named by the usual storelink configuration
func withPool(ctx context.Context, fn func(*database.ConnectionPool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		Driver:     cfg.DatabaseDriver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	}, quietLogger())
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
