package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/claimdesk/claimdesk/internal/config"
	"github.com/claimdesk/claimdesk/internal/domain/users"
	"github.com/claimdesk/claimdesk/internal/intelligence/extract"
	"github.com/claimdesk/claimdesk/internal/intelligence/suggest"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "claimdesk-server",
		Short: "Claim adjudication API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(suggestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claim API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, os.DirFS(dir))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema for migrations (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if schema == "" {
				schema = cfg.DBSchema
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, os.DirFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema for migrations (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// adminCmd bootstraps the platform administrator. Hospital and insurer
// administrators are created through the onboarding API.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage platform administrators",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a platform administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := users.NewService(users.NewUserRepo(pool), nil)
			u := &users.User{Username: username, Role: auth.RoleAdmin}
			if err := svc.Create(ctx, u, password); err != nil {
				return err
			}
			fmt.Printf("Created administrator %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("password", "", "Initial password")

	cmd.AddCommand(createCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			sub, _ := cmd.Flags().GetString("sub")
			hospital, _ := cmd.Flags().GetString("hospital")
			insurer, _ := cmd.Flags().GetString("insurer")

			id, err := identityFromFlags(role, sub, hospital, insurer)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSigningKey == "" {
				return fmt.Errorf("JWT_SIGNING_KEY must be set to issue tokens")
			}

			token, exp, err := auth.NewIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.JWTTTL).Issue(id)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().String("role", auth.RoleAdmin, "admin, hospital or insurer")
	cmd.Flags().String("sub", "cli", "Token subject")
	cmd.Flags().String("hospital", "", "Hospital ID for hospital tokens")
	cmd.Flags().String("insurer", "", "Insurer ID for insurer tokens")
	return cmd
}

func identityFromFlags(role, sub, hospital, insurer string) (auth.Identity, error) {
	if !auth.ValidRole(role) {
		return auth.Identity{}, fmt.Errorf("unknown role %q", role)
	}
	id := auth.Identity{ActorID: sub, Role: role}
	switch role {
	case auth.RoleHospital:
		hid, err := uuid.Parse(hospital)
		if err != nil {
			return id, fmt.Errorf("--hospital must be a UUID for hospital tokens")
		}
		id.HospitalID = hid
	case auth.RoleInsurer:
		iid, err := uuid.Parse(insurer)
		if err != nil {
			return id, fmt.Errorf("--insurer must be a UUID for insurer tokens")
		}
		id.InsurerID = iid
	}
	return id, nil
}

// suggestCmd runs the required-document synthesizer over a local policy file
// and prints the checklist, without touching the database.
func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <policy-file>",
		Short: "Suggest required claim documents for a policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			gen := newGenerator(ctx, cfg, logger)
			extractor := extract.New(nil, gen, logger)
			synth := suggest.New(gen, logger, suggest.WithChunkSize(cfg.SuggestChunkSize))

			name := filepath.Base(path)
			text := extractor.ExtractBytes(ctx, name, mime.TypeByExtension(filepath.Ext(name)), data)
			docs := synth.Synthesize(ctx, text)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(docs)
		},
	}
}
