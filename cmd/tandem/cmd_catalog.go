/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/tandem/internal/catalog"
	"github.com/friendsincode/tandem/internal/db"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate, import and export the track catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a YAML catalog without importing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogValidate,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the stored catalog with a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogImport,
}

var catalogExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the stored catalog as YAML (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalogExport,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tracks and sessions",
	RunE:  runCatalogList,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogExportCmd)
	catalogCmd.AddCommand(catalogListCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	c, err := catalog.LoadFile(args[0])
	if err != nil {
		return err
	}
	sessions, blocks := summarize(c)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tracks, %d sessions, %d blocks\n", args[0], c.Len(), sessions, blocks)
	return nil
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	c, err := catalog.LoadFile(args[0])
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	if err := catalog.NewRepository(database).Replace(context.Background(), c); err != nil {
		return fmt.Errorf("import catalog: %w", err)
	}

	sessions, blocks := summarize(c)
	logger.Info().
		Str("file", args[0]).
		Int("tracks", c.Len()).
		Int("sessions", sessions).
		Int("blocks", blocks).
		Msg("catalog imported")
	return nil
}

func runCatalogExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	c, err := catalog.NewRepository(database).Load(context.Background())
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	data, err := catalog.Marshal(c)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(args[0], data, 0o644)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	c, err := catalog.NewRepository(database).Load(context.Background())
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, t := range c.Tracks() {
		kind := "track"
		if t.IsComposite() {
			kind = fmt.Sprintf("session/%d", len(t.Blocks))
		}
		fmt.Fprintf(out, "%-24s %-12s %6ds  %s\n", t.ID, kind, catalog.TotalDuration(t), t.Title)
	}
	return nil
}

func summarize(c *catalog.Catalog) (sessions, blocks int) {
	for _, t := range c.Tracks() {
		if t.IsComposite() {
			sessions++
			blocks += len(t.Blocks)
		}
	}
	return sessions, blocks
}
