package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agora-server/internal/config"
	"agora-server/internal/model"
	"agora-server/internal/service"
	"agora-server/internal/store/postgres"
)

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Agora real-time gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCmd(cmd)
		},
	}
	root.AddCommand(
		buildServeCmd(),
		buildTokenCmd(),
		buildAdminTokenCmd(),
		buildMigrateCmd(),
	)
	return root
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCmd(cmd)
		},
	}
}

func runServeCmd(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg)
}

func buildTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		level  string
		hours  int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a user JWT signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			identity := model.Identity{
				ID:           userID,
				Role:         model.Role(role),
				AccountLevel: model.AccountLevel(level),
				IsActive:     true,
			}
			if !identity.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if !identity.AccountLevel.Valid() {
				return fmt.Errorf("unknown account level %q", level)
			}
			if hours <= 0 {
				hours = cfg.JWT.ExpirationHours
			}

			jwtService := service.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, hours)
			token, err := jwtService.GenerateToken(identity)
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s (%s, %s)\n", identity.ID, identity.Role, identity.AccountLevel)
			fmt.Fprintf(out, "expires: %s\n", time.Now().Add(time.Duration(hours)*time.Hour).Format(time.RFC3339))
			fmt.Fprintf(out, "token:   %s\n\n", token)
			fmt.Fprintf(out, "ws://localhost:%s/ws?token=%s\n", cfg.Server.Port, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleUser), "ADMIN, SELLER or USER")
	cmd.Flags().StringVar(&level, "level", string(model.LevelFree), "FREE, PREMIUM or ENTERPRISE")
	cmd.Flags().IntVar(&hours, "hours", 0, "lifetime in hours (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildAdminTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-token",
		Short: "Print the token for /metrics and /logs/errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), service.NewAuthService(cfg.Admin.Secret).GenerateAuthToken())
			return nil
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.Store.DSN
			}
			if dsn == "" {
				return fmt.Errorf("no database dsn: set store.dsn or pass --dsn")
			}

			st, err := postgres.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := postgres.Migrate(st.DB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "database dsn (default store.dsn)")
	return cmd
}
