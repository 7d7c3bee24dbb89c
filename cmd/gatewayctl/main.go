// gatewayctl provisions identity bindings and storefront links directly in
// the gateway database.
//
//	gatewayctl register <identity-token> [label]
//	gatewayctl activate <identity-token> <credential>
//	gatewayctl deactivate <identity-token>
//	gatewayctl link <shop-domain> <identity-token>
//	gatewayctl status <shop-domain>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/config"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
	"github.com/PratikDhanave/conversions-gateway/internal/provision"
	"github.com/PratikDhanave/conversions-gateway/internal/store"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "Timeout for the whole command")
	verbose := flag.Bool("v", false, "Log store operations")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fail(err)
		}
	}

	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		fail(err)
	}
	defer db.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := db.EnsureSchema(ctx); err != nil {
		fail(err)
	}

	var cache provision.Invalidator
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		cache = store.NewCachedIdentities(db, rdb, cfg.IdentityCacheTTL, logger)
	}

	svc := provision.New(db, cache, logger)
	if err := run(ctx, svc, args); err != nil {
		fail(err)
	}
}

func run(ctx context.Context, svc *provision.Service, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "register":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("usage: register <identity-token> [label]")
		}
		label := ""
		if len(rest) == 2 {
			label = rest[1]
		}
		if err := svc.Register(ctx, rest[0], label); err != nil {
			return err
		}
		fmt.Printf("registered %s (inactive until a credential is attached)\n", rest[0])

	case "activate":
		if len(rest) != 2 {
			return fmt.Errorf("usage: activate <identity-token> <credential>")
		}
		if err := svc.Activate(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		fmt.Printf("activated %s\n", rest[0])

	case "deactivate":
		if len(rest) != 1 {
			return fmt.Errorf("usage: deactivate <identity-token>")
		}
		if err := svc.Deactivate(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Printf("deactivated %s\n", rest[0])

	case "link":
		if len(rest) != 2 {
			return fmt.Errorf("usage: link <shop-domain> <identity-token>")
		}
		status, err := svc.Link(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		printStatus(status)

	case "status":
		if len(rest) != 1 {
			return fmt.Errorf("usage: status <shop-domain>")
		}
		status, err := svc.Status(ctx, rest[0])
		if err != nil {
			return err
		}
		printStatus(status)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printStatus(s models.ShopLinkStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Shop:\t%s\n", s.ShopDomain)
	fmt.Fprintf(w, "  State:\t%s\n", strings.ToUpper(string(s.State)))
	if s.IdentityToken != "" {
		fmt.Fprintf(w, "  Identity:\t%s\n", s.IdentityToken)
	}
	if s.Label != "" {
		fmt.Fprintf(w, "  Label:\t%s\n", s.Label)
	}
	if s.StaleActivation {
		fmt.Fprintf(w, "  Warning:\tstored activation flag is stale\n")
	}
	w.Flush()
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: gatewayctl [flags] <command> [args]

commands:
  register <identity-token> [label]
  activate <identity-token> <credential>
  deactivate <identity-token>
  link <shop-domain> <identity-token>
  status <shop-domain>

flags:
`)
	flag.PrintDefaults()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "gatewayctl: %v\n", err)
	os.Exit(1)
}
