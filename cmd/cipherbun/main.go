// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for the cipherbun tool
// using the Cobra library: the migrate command opens a database at a
// target schema version with SQL-file callbacks, and the info command
// reports the stored schema version and tables.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/cipherbun"
	"github.com/toeirei/cipherbun/config"
	"github.com/toeirei/cipherbun/migrate"
	"golang.org/x/term"

	_ "modernc.org/sqlite"
)

var version = "dev" // set by the linker

var (
	cfgFile          string
	promptCredential bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cipherbun",
		Short: "cipherbun manages versioned schemas of encrypted SQLite databases.",
		Long: `cipherbun opens an encrypted SQLite database at a target schema
version, creating or upgrading the schema from SQL migration files as
needed. The open sequence runs on a single dedicated connection which is
shared with anything the migration callbacks touch.`,
	}
	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cipherbun.yaml)")
	cmd.PersistentFlags().String("database.path", "./cipherbun.db", "database file path")
	cmd.PersistentFlags().String("database.credential_env", "", "environment variable holding the database credential")
	cmd.PersistentFlags().BoolVar(&promptCredential, "prompt-credential", false, "prompt for the database credential")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newInfoCmd())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Open the database at the target schema version, applying migration files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return err
			}
			cipherbun.SetDebug(cfg.Debug)

			credential, err := resolveCredential(cfg)
			if err != nil {
				return err
			}

			opts := []cipherbun.Option{
				cipherbun.WithBusyTimeout(cfg.Database.BusyTimeoutMS),
			}
			if credential != "" {
				opts = append(opts, cipherbun.WithCredential(credential))
			}
			if cfg.Schema.Config != "" {
				opts = append(opts, cipherbun.WithSchemaConfigFile(cfg.Schema.Config))
			}

			callbacks := migrate.New(os.DirFS(cfg.Migrations.Dir), ".", cfg.Database.Version)
			helper, err := cipherbun.New(cfg.Database.Path, cfg.Database.Version, callbacks, opts...)
			if err != nil {
				return err
			}
			if err := helper.Open(context.Background()); err != nil {
				return err
			}
			defer func() { _ = helper.Close() }()

			fmt.Printf("database %s is at schema version %d\n", cfg.Database.Path, cfg.Database.Version)
			return nil
		},
	}
	cmd.Flags().Int("database.version", 1, "target schema version")
	cmd.Flags().String("migrations.dir", "./migrations", "directory containing <version>_<name>.up.sql files")
	cmd.Flags().String("schema.config", "", "optional schema-config YAML (plain or gzip)")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Report the stored schema version and tables of a database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return err
			}
			credential, err := resolveCredential(cfg)
			if err != nil {
				return err
			}

			dsn := "file:" + cfg.Database.Path
			if credential != "" {
				dsn += "?_pragma=key(" + url.QueryEscape(credential) + ")"
			}
			db, err := sql.Open("sqlite", dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			var userVersion int
			if err := db.QueryRow("PRAGMA user_version").Scan(&userVersion); err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("schema version: %d\n", userVersion)

			rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
			if err != nil {
				return fmt.Errorf("list tables: %w", err)
			}
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var name string
				if err := rows.Scan(&name); err != nil {
					return err
				}
				fmt.Printf("table: %s\n", name)
			}
			return rows.Err()
		},
	}
}

// resolveCredential picks the credential from the prompt when requested,
// falling back to the configured environment variable.
func resolveCredential(cfg config.Config) (string, error) {
	if promptCredential {
		fmt.Fprint(os.Stderr, "credential: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read credential: %w", err)
		}
		return string(secret), nil
	}
	return cfg.Credential(), nil
}
