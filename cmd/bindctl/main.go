// Command bindctl provisions and inspects activation keys in the configured
// binding store.
//
//	bindctl provision <key>...
//	bindctl show <key>
//	bindctl activate <key> <device>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"keybind/internal/config"
	"keybind/internal/infrastructure"
	"keybind/internal/license"
	"keybind/internal/store"
)

// errUsage reports a malformed command line.
var errUsage = errors.New("usage: bindctl [-backend name] provision <key>... | show <key> | activate <key> <device>")

func main() {
	backend := flag.String("backend", "", "override the configured store backend")
	flag.Parse()

	if err := run(*backend, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "bindctl:", err)
		os.Exit(1)
	}
}

func run(backend string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}

	logger := infrastructure.WithComponent(infrastructure.NewLogger(cfg.Logging, os.Stderr), "bindctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = infrastructure.EnsureTraceID(ctx)

	handle, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer handle.Close()

	if handle.Backend == config.BackendMemory {
		logger.Warn("memory backend is process-local; changes are lost on exit")
	}

	c := &cli{
		store:  handle.Store,
		binder: license.NewBinder(handle.Store, license.WithStoreTimeout(cfg.Store.Timeout), license.WithLogger(logger)),
		out:    os.Stdout,
	}
	return c.execute(ctx, args)
}

type cli struct {
	store  license.Store
	binder *license.Binder
	out    io.Writer
}

func (c *cli) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "provision":
		if len(rest) == 0 {
			return errUsage
		}
		return c.provision(ctx, rest)
	case "show":
		if len(rest) != 1 {
			return errUsage
		}
		return c.show(ctx, rest[0])
	case "activate":
		if len(rest) != 2 {
			return errUsage
		}
		return c.activate(ctx, rest[0], rest[1])
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (c *cli) provision(ctx context.Context, keys []string) error {
	p, ok := c.store.(license.Provisioner)
	if !ok {
		return errors.New("the configured backend does not support provisioning")
	}

	var failed int
	for _, key := range keys {
		switch err := p.Provision(ctx, key); {
		case err == nil:
			fmt.Fprintf(c.out, "provisioned %s\n", key)
		case errors.Is(err, license.ErrKeyExists):
			fmt.Fprintf(c.out, "exists      %s\n", key)
		default:
			failed++
			fmt.Fprintf(c.out, "failed      %s: %v\n", key, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d keys failed", failed, len(keys))
	}
	return nil
}

func (c *cli) show(ctx context.Context, key string) error {
	rec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %s: %w", key, license.ErrNotFound)
	}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func (c *cli) activate(ctx context.Context, key, deviceID string) error {
	res, err := c.binder.Activate(ctx, key, deviceID)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, res.Outcome)
	if !res.Outcome.Success() {
		return fmt.Errorf("activation %s", res.Outcome)
	}
	return nil
}
