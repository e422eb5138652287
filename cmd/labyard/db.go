package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/db"
	"github.com/RohitKumar027/ReliabilityPortal/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Storage management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the lab database",
		Long:  "Creates the MySQL database when that driver is configured and migrates the snapshot and alert tables. Redis needs no initialization.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded config for lab %q from %s\n", cfg.Lab.Name, configPath)

	switch cfg.Store.Driver {
	case config.DriverRedis:
		fmt.Fprintf(out, "Store is redis at %s; nothing to migrate.\n", cfg.Store.Redis.Addr)
		return nil
	case config.DriverMySQL:
		s := cfg.Store
		adminDB, err := db.ConnectAdmin(s.User, s.Password, s.Host, s.Port)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", s.Host, s.Port, err)
		}
		defer db.Close(adminDB)
		if err := db.CreateDatabase(adminDB, s.Database); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", s.Database)
	}

	gormDB, err := db.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	fmt.Fprintln(out, "\nLab database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the saved lab state and alerts",
		Long: `Clears the saved lab snapshot. For SQL stores the snapshot and alert
tables are also dropped and re-created. The next start begins from the
machines and technicians in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !skipConfirm && !confirmReset(cmd, cfg.Lab.Name) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	st, gormDB, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close(gormDB)
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	if gormDB != nil {
		if err := db.Reset(gormDB); err != nil {
			return err
		}
		fmt.Fprintf(out, "Re-created %d tables\n", len(db.AllModels()))
	} else {
		if err := st.Clear(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared snapshot %q\n", cfg.Store.Key)
	}
	fmt.Fprintln(out, "\nLab state reset.")
	return nil
}

func confirmReset(cmd *cobra.Command, labName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete the saved state of lab %q.\n", labName)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
