package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
)

type tokenAdmin interface {
	PurgeExpired(ctx context.Context) (int64, error)
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

type opener func(ctx context.Context) (tokenAdmin, func(), error)

var errUsage = errors.New("usage: tokenctl purge | revoke-user -user <id> | gen-secret [-bytes n]")

func run(ctx context.Context, args []string, out io.Writer, open opener) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "purge":
		admin, closeFn, err := open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := admin.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "purged %d expired refresh tokens\n", n)
		return nil

	case "revoke-user":
		fs := flag.NewFlagSet("revoke-user", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		userID := fs.String("user", "", "user id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *userID == "" {
			return fmt.Errorf("revoke-user: -user is required")
		}

		admin, closeFn, err := open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := admin.RevokeAll(ctx, *userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked %d sessions of user %s\n", n, *userID)
		return nil

	case "gen-secret":
		fs := flag.NewFlagSet("gen-secret", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		size := fs.Int("bytes", 32, "random bytes")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *size < 16 {
			return fmt.Errorf("gen-secret: at least 16 bytes")
		}
		secret, err := common.MakeRandHexString(*size)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, secret)
		return nil

	default:
		return errUsage
	}
}
