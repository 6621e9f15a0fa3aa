// Package main is the entry point for the Alexander Gateway admin CLI.
// It manages credential mappings directly against the credential store:
// creating emulated key pairs, listing, revoking, and deleting mappings.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/config"
	"github.com/prn-tf/alexander-gateway/internal/pkg/crypto"
	"github.com/prn-tf/alexander-gateway/internal/repository/store"
	"github.com/prn-tf/alexander-gateway/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "version" {
		fmt.Printf("gateway-admin %s (%s)\n", Version, GitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.EncryptionPassphrase == "" {
		fmt.Fprintln(os.Stderr, "auth.encryption_passphrase is required")
		os.Exit(1)
	}

	ctx := context.Background()
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	encryptor, err := crypto.NewEncryptorFromPassphrase(cfg.Auth.EncryptionPassphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize encryptor: %v\n", err)
		os.Exit(1)
	}

	repo, db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open credential store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	svc := service.NewCredentialService(repo, encryptor, logger)

	switch args[0] {
	case "add":
		err = runAdd(ctx, svc, args[1:])
	case "list":
		err = runList(ctx, svc)
	case "revoke":
		err = runRevoke(ctx, svc, args[1:])
	case "delete":
		err = runDelete(ctx, svc, args[1:])
	case "reap":
		err = runReap(ctx, svc)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runAdd(ctx context.Context, svc *service.CredentialService, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	remoteKey := fs.String("remote-key", "", "remote access key (required)")
	remoteSecret := fs.String("remote-secret", "", "remote secret key (required)")
	remoteToken := fs.String("remote-token", "", "remote session token (optional)")
	description := fs.String("description", "", "description of the mapping")
	expiresIn := fs.Duration("expires-in", 0, "lifetime of the mapping, e.g. 720h (0 for no expiry)")
	fs.Parse(args)

	if *remoteKey == "" || *remoteSecret == "" {
		return fmt.Errorf("add: -remote-key and -remote-secret are required")
	}

	input := service.CreateMappingInput{
		RemoteAccessKey:    *remoteKey,
		RemoteSecretKey:    *remoteSecret,
		RemoteSessionToken: *remoteToken,
		Description:        *description,
	}
	if *expiresIn > 0 {
		exp := time.Now().UTC().Add(*expiresIn)
		input.ExpiresAt = &exp
	}

	out, err := svc.CreateMapping(ctx, input)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	fmt.Println("Mapping created. Store the secret key now; it is not shown again.")
	fmt.Printf("  Access Key ID:     %s\n", out.EmulatedAccessKey)
	fmt.Printf("  Secret Access Key: %s\n", out.EmulatedSecretKey)
	fmt.Printf("  Remote Access Key: %s\n", out.Mapping.RemoteAccessKey)
	if out.Mapping.ExpiresAt != nil {
		fmt.Printf("  Expires:           %s\n", out.Mapping.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runList(ctx context.Context, svc *service.CredentialService) error {
	mappings, err := svc.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCESS KEY\tREMOTE KEY\tSTATUS\tEXPIRES\tLAST USED\tDESCRIPTION")
	for _, m := range mappings {
		expires := "-"
		if m.ExpiresAt != nil {
			expires = m.ExpiresAt.Format(time.RFC3339)
		}
		lastUsed := "never"
		if m.LastUsedAt != nil {
			lastUsed = m.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.EmulatedAccessKey, m.RemoteAccessKey, m.Status, expires, lastUsed, m.Description)
	}
	return w.Flush()
}

func runRevoke(ctx context.Context, svc *service.CredentialService, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("revoke: expected exactly one access key")
	}
	if err := svc.RevokeMapping(ctx, args[0]); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	fmt.Printf("Mapping %s revoked.\n", args[0])
	return nil
}

func runDelete(ctx context.Context, svc *service.CredentialService, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete: expected exactly one access key")
	}
	if err := svc.DeleteMapping(ctx, args[0]); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Printf("Mapping %s deleted.\n", args[0])
	return nil
}

func runReap(ctx context.Context, svc *service.CredentialService) error {
	n, err := svc.DeleteExpiredMappings(ctx)
	if err != nil {
		return fmt.Errorf("reap: %w", err)
	}
	fmt.Printf("Removed %d expired mappings.\n", n)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: gateway-admin [-config path] <command> [arguments]

Commands:
  add      create a credential mapping and print the emulated key pair
             -remote-key KEY -remote-secret SECRET [-remote-token TOKEN]
             [-description TEXT] [-expires-in DURATION]
  list     list all credential mappings
  revoke   deactivate a mapping: revoke ACCESS_KEY
  delete   remove a mapping permanently: delete ACCESS_KEY
  reap     remove expired mappings
  version  print version information
`)
}
