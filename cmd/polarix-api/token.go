package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/14vimal2/polarix/internal/auth"
	"github.com/14vimal2/polarix/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newTokenCommand mints development tokens accepted by the hs256 auth mode.
func newTokenCommand() *cobra.Command {
	var (
		subject  string
		username string
		email    string
		roles    []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token for the hs256 auth mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if appConfig.AuthMode != config.AuthModeHS256 {
				return errors.New("token issuance requires auth.mode=hs256")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.Issue(auth.Principal{
				Subject:  strings.TrimSpace(subject),
				Username: username,
				Email:    email,
				Roles:    roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringVar(&username, "username", "", "preferred_username claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Realm role (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*time.Minute, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
