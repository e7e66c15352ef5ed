package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sydlexius/iconforge/internal/backup"
	"github.com/sydlexius/iconforge/internal/database"
	"github.com/sydlexius/iconforge/internal/logging"
)

// runRestore decompresses a backup into a new database file. The server
// must be pointed at the result; the live database is never overwritten.
func runRestore(args []string) error {
	return restore(args, os.Stdout, os.Stderr)
}

func restore(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	src := fs.String("backup", "", "backup file (iconforge-YYYYMMDD-HHMMSS.db.zst)")
	dest := fs.String("dest", "", "path of the database file to create")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *src == "" || *dest == "" {
		return errors.New("-backup and -dest are required")
	}

	_, logger := logging.NewManager(logging.Config{Level: "warn", Format: "auto", Output: stderr})
	svc := backup.NewService(nil, filepath.Dir(*src), 0, logger)
	if err := svc.Extract(filepath.Base(*src), *dest); err != nil {
		return err
	}

	// Opening and migrating proves the file is a usable database and brings
	// an older snapshot up to the current schema.
	db, err := database.Open(*dest)
	if err != nil {
		return fmt.Errorf("opening restored database: %w", err)
	}
	defer db.Close() //nolint:errcheck
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating restored database: %w", err)
	}
	fmt.Fprintf(stdout, "restored %s to %s\n", filepath.Base(*src), *dest)
	return nil
}
