package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/spf13/cobra"

	"github.com/HerbHall/ztpserver/internal/config"
	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/pkg/models"
)

// errCheckFailed is returned after every problem has been printed.
var errCheckFailed = errors.New("repository check failed")

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	stores := newStoreSet()
	defer func() {
		for _, db := range stores.byPath {
			_ = db.Close()
		}
	}()

	repo, err := openRepository(cmd.Context(), cfg.Repository, stores)
	if err != nil {
		return err
	}
	return checkRepository(cmd.Context(), repo, cfg.Neighbordb.Path, cmd.OutOrStdout())
}

// checkRepository loads neighbordb and every definition its patterns name,
// reporting each problem on w.
func checkRepository(ctx context.Context, repo *repository.Repository, ndbPath string, w io.Writer) error {
	db, err := neighbordb.NewLoader(repo, ndbPath).Load(ctx)
	if err != nil {
		fmt.Fprintf(w, "FAIL  %s: %v\n", ndbPath, err)
		return errCheckFailed
	}
	fmt.Fprintf(w, "ok    %s (%d patterns)\n", ndbPath, len(db.Patterns()))

	failed := false
	seen := map[string]bool{}
	for _, p := range db.Patterns() {
		name := p.Definition()
		if seen[name] {
			continue
		}
		seen[name] = true

		defPath := path.Join("definitions", name)
		if err := checkDefinition(ctx, repo, defPath); err != nil {
			fmt.Fprintf(w, "FAIL  %s (pattern %q): %v\n", defPath, p.Name(), err)
			failed = true
			continue
		}
		fmt.Fprintf(w, "ok    %s\n", defPath)
	}
	if failed {
		return errCheckFailed
	}
	return nil
}

func checkDefinition(ctx context.Context, repo *repository.Repository, p string) error {
	f, err := repo.GetFile(ctx, p)
	if err != nil {
		return err
	}
	var def models.Definition
	if err := f.Read(ctx, repository.ContentTypeYAML, &def); err != nil {
		return err
	}
	for i, a := range def.Actions {
		if a.Name == "" {
			return fmt.Errorf("action %d has no name", i)
		}
	}
	return nil
}
