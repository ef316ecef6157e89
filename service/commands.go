package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inkwell/app/config"
	"inkwell/app/logging"
	"inkwell/app/services"
	"inkwell/app/storage"
)

type cli struct {
	configPath string
	cfg        config.Config
	log        *slog.Logger
	in         *bufio.Reader
}

// NewRootCommand builds the inkwell command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "inkwell",
		Short:         "A personal blog with subscribers, comments and bookmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			c.cfg, c.log = cfg, log
			c.in = bufio.NewReader(cmd.InOrStdin())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("INKWELL_CONFIG"), "path to the YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the blog service",
		Args:  cobra.NoArgs,
		RunE:  c.serve,
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new empty database and content directories",
		Args:  cobra.NoArgs,
		RunE:  c.initDb,
	}
	var yes bool
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every record in the blog database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.clean(cmd, yes)
		},
	}
	cleanCmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	var backupDir string
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the database (badger only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.backup(cmd, backupDir)
		},
	}
	backupCmd.Flags().StringVar(&backupDir, "dir", "data/backups", "directory the backup file is written to")

	var force bool
	restoreCmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore the database from a backup (badger only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.restore(cmd, args[0], force)
		},
	}
	restoreCmd.Flags().BoolVarP(&force, "yes", "y", false, "replace an existing database without asking")

	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the owner account",
	}
	var form services.AdminForm
	adminCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Provision the owner account with its two passwords",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.createAdmin(cmd, form)
		},
	}
	adminCreateCmd.Flags().StringVar(&form.Username, "username", "", "owner username")
	adminCreateCmd.Flags().StringVar(&form.Password1, "password1", "", "first password; prompted when empty")
	adminCreateCmd.Flags().StringVar(&form.Password2, "password2", "", "second password; prompted when empty")
	adminCreateCmd.MarkFlagRequired("username")
	adminCmd.AddCommand(adminCreateCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inkwell version %s\n", Version)
		},
	}

	root.AddCommand(serveCmd, initCmd, cleanCmd, backupCmd, restoreCmd, adminCmd, versionCmd)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	app, err := NewApp(c.cfg, c.log)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

// confirm asks a yes/no question on the command's input. Anything but y
// or yes is a no.
func (c *cli) confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (c *cli) prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// initDb creates the database and the content directories.
func (c *cli) initDb(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if c.cfg.Storage.Driver != config.DriverPostgres && storeExists(c.cfg.Storage) {
		return fmt.Errorf("database already exists at %s; use 'clean' first if you want to reinitialize", c.cfg.Storage.Path)
	}
	store, err := openStore(c.cfg.Storage, c.log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := store.Close(); err != nil {
		return err
	}
	if _, err := storage.NewDisk(c.cfg.Content.PostsDir, c.cfg.Content.MediaDir); err != nil {
		return fmt.Errorf("failed to create content directories: %w", err)
	}
	fmt.Fprintln(out, "Database initialized successfully")
	return nil
}

// clean empties the database. Content files are left alone.
func (c *cli) clean(cmd *cobra.Command, yes bool) error {
	out := cmd.OutOrStdout()
	if !storeExists(c.cfg.Storage) {
		fmt.Fprintln(out, "Database is already clean (does not exist)")
		return nil
	}
	if !yes && !c.confirm(cmd, "Are you sure you want to clean the database? This cannot be undone.") {
		fmt.Fprintln(out, "Operation cancelled")
		return nil
	}

	switch c.cfg.Storage.Driver {
	case config.DriverBadger:
		if err := os.RemoveAll(c.cfg.Storage.Path); err != nil {
			return fmt.Errorf("failed to clean database: %w", err)
		}
	case config.DriverSQLite:
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(c.cfg.Storage.Path + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to clean database: %w", err)
			}
		}
	default:
		store, err := openStore(c.cfg.Storage, c.log)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.sql.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clean database: %w", err)
		}
	}
	fmt.Fprintln(out, "Database cleaned successfully")
	return nil
}

func (c *cli) backup(cmd *cobra.Command, dir string) error {
	if c.cfg.Storage.Driver != config.DriverBadger {
		return errNoBadger
	}
	if !storeExists(c.cfg.Storage) {
		return errors.New("no database exists to backup")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	store, err := openStore(c.cfg.Storage, c.log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	file := filepath.Join(dir, fmt.Sprintf("backup_%d.db", time.Now().Unix()))
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if err := store.badger.Backup(f); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}
	if err := f.Sync(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database backed up successfully to %s\n", file)
	return nil
}

func (c *cli) restore(cmd *cobra.Command, file string, yes bool) (err error) {
	if c.cfg.Storage.Driver != config.DriverBadger {
		return errNoBadger
	}
	out := cmd.OutOrStdout()
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("backup file does not exist: %s", file)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat backup file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("backup file is empty: %s", file)
	}

	if storeExists(c.cfg.Storage) {
		if !yes && !c.confirm(cmd, "Existing database found. Do you want to replace it?") {
			fmt.Fprintln(out, "Operation cancelled")
			return nil
		}
		if err := os.RemoveAll(c.cfg.Storage.Path); err != nil {
			return fmt.Errorf("failed to remove existing database: %w", err)
		}
	}

	store, err := openStore(c.cfg.Storage, c.log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	// badger panics on some corrupt backups
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred during restore: %v", r)
		}
	}()
	if err := store.badger.Restore(f); err != nil {
		return fmt.Errorf("failed to restore database: %w", err)
	}
	fmt.Fprintln(out, "Database restored successfully")
	return nil
}

func (c *cli) createAdmin(cmd *cobra.Command, form services.AdminForm) error {
	var err error
	if form.Password1 == "" {
		if form.Password1, err = c.prompt(cmd, "First password"); err != nil {
			return err
		}
	}
	if form.Password2 == "" {
		if form.Password2, err = c.prompt(cmd, "Second password"); err != nil {
			return err
		}
	}

	store, err := openStore(c.cfg.Storage, c.log)
	if err != nil {
		return err
	}
	defer store.Close()

	accounts := services.NewAccountService(&services.Dependencies{
		Store:  store,
		Logger: c.log,
	}, nil)
	admin, err := accounts.ProvisionAdmin(cmd.Context(), form)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Admin %q created with id %d\n", admin.Username, admin.ID)
	return nil
}
