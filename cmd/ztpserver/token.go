package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HerbHall/ztpserver/internal/auth"
	"github.com/HerbHall/ztpserver/internal/config"
)

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is not configured")
	}
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret))
	if err != nil {
		return err
	}
	token, err := tokens.Issue(auth.ScopeEvents, tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
