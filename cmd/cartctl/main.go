// Command cartctl drives the cart sync layer from a terminal, the way a
// storefront tab would: a local SQLite store plus the remote cart API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"scentcart/internal/auth"
	"scentcart/internal/cart"
	"scentcart/internal/cartclient"
	"scentcart/internal/cartsync"
	"scentcart/internal/config"
	"scentcart/internal/logger"
	"scentcart/internal/storage"
	"scentcart/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `usage: cartctl <command> [flags]

commands:
  add     -product ID [-name N] [-price P] [-qty N] [-opt k=v ...]
  list
  count
  update  -id ID [-qty N] [-opt k=v ...]
  remove  -id ID
  clear
  login   -user ID [-token T] [-email E]
  logout
  sync
  token   -user ID [-email E] [-ttl D]
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(1)
	}
}

// optionsFlag collects repeated -opt k=v flags.
type optionsFlag cart.Options

func (o *optionsFlag) String() string {
	return cart.OptionsKey(cart.Options(*o))
}

func (o *optionsFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("option %q: want key=value", v)
	}
	if *o == nil {
		*o = optionsFlag{}
	}
	(*o)[strings.TrimSpace(k)] = strings.TrimSpace(val)
	return nil
}

func run(ctx context.Context, cfg *config.ClientConfig, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	// token needs no store
	if cmd == "token" {
		return runToken(cfg, rest, out)
	}

	store, err := storage.OpenSQLite(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer, err := cartsync.New(cartsync.Config{
		Storage:       store,
		Remote:        cartclient.New(cfg.APIURL, cfg.RequestTimeout),
		CacheTTL:      cfg.CacheTTL,
		CacheCapacity: cfg.CacheCapacity,
	})
	if err != nil {
		return err
	}
	defer syncer.Close()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go syncer.Run(sweepCtx, cfg.SweepInterval)

	unsubscribe := syncer.Notifier().Subscribe(func(ev cartsync.Event) {
		switch ev.Type {
		case cartsync.EventNotice:
			fmt.Fprintf(out, "[%s] %s\n", ev.Level, ev.Message)
		case cartsync.EventSyncFailed:
			fmt.Fprintf(out, "[error] background %s failed: %v\n", ev.Op, ev.Err)
		}
	})
	defer unsubscribe()

	switch cmd {
	case "add":
		return runAdd(ctx, syncer, rest, out)
	case "list":
		return runList(ctx, syncer, out)
	case "count":
		fmt.Fprintln(out, syncer.Count(ctx))
		return nil
	case "update":
		return runUpdate(ctx, syncer, rest)
	case "remove":
		return runRemove(ctx, syncer, rest)
	case "clear":
		task, err := syncer.ClearCart(ctx)
		if err != nil {
			return err
		}
		return task.Wait(ctx)
	case "login":
		return runLogin(ctx, cfg, syncer, rest, out)
	case "logout":
		return syncer.Logout(ctx)
	case "sync":
		report := syncer.SyncPending(ctx)
		printReport(out, report)
		return report.Err
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func runAdd(ctx context.Context, syncer *cartsync.Syncer, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	productID := fs.String("product", "", "product id")
	name := fs.String("name", "", "display name")
	price := fs.String("price", "0", "unit price")
	qty := fs.Int("qty", 1, "quantity")
	var opts optionsFlag
	fs.Var(&opts, "opt", "selected option key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	p, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("price %q: %w", *price, err)
	}

	res, err := syncer.AddToCart(ctx, cartsync.AddRequest{
		ProductID:       *productID,
		Name:            *name,
		Price:           p,
		Quantity:        *qty,
		SelectedOptions: cart.Options(opts),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s x%d (%s)\n", res.Item.ID, res.Item.Quantity, res.Path)
	return nil
}

func runList(ctx context.Context, syncer *cartsync.Syncer, out io.Writer) error {
	items, err := syncer.GetCart(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRODUCT\tOPTIONS\tQTY\tTOTAL\tSYNCED")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\n",
			it.ID, it.ProductID, cart.OptionsKey(it.SelectedOptions),
			it.EffectiveQuantity(), it.LineTotal().StringFixed(2), it.Persisted)
	}
	sum := cart.Summarize(items)
	fmt.Fprintf(w, "\t\t\t%d\t%s\t\n", sum.Quantity, sum.Subtotal.StringFixed(2))
	return w.Flush()
}

func runUpdate(ctx context.Context, syncer *cartsync.Syncer, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "cart line id")
	qty := fs.Int("qty", -1, "new quantity, 0 removes")
	var opts optionsFlag
	fs.Var(&opts, "opt", "new selected option key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	req := cartsync.UpdateRequest{SelectedOptions: cart.Options(opts)}
	if *qty >= 0 {
		req.Quantity = utils.IntPtr(*qty)
	}

	task, err := syncer.UpdateItem(ctx, *id, req)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func runRemove(ctx context.Context, syncer *cartsync.Syncer, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "cart line id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	task, err := syncer.RemoveItem(ctx, *id)
	if err != nil {
		return err
	}
	return task.Wait(ctx)
}

func runLogin(ctx context.Context, cfg *config.ClientConfig, syncer *cartsync.Syncer, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "user id")
	token := fs.String("token", "", "access token (signed with JWT_SECRET when empty)")
	email := fs.String("email", "", "email")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if *token == "" {
		signed, err := auth.GenerateJWT(cfg.JWTSecret, *userID, *email, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("no -token given: %w", err)
		}
		*token = signed
	}

	report, err := syncer.Login(ctx, storage.UserRecord{
		ID:    storage.FlexibleID(*userID),
		Token: *token,
		Email: *email,
	})
	if err != nil {
		return err
	}
	if report.Err != nil {
		logger.FromCtx(ctx).Warn("guest cart kept locally", zap.Error(report.Err))
	}
	printReport(out, report)
	return nil
}

func runToken(cfg *config.ClientConfig, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "user id")
	email := fs.String("email", "", "email")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	token, err := auth.GenerateJWT(cfg.JWTSecret, *userID, *email, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func printReport(out io.Writer, r cartsync.MergeReport) {
	switch {
	case r.Err != nil:
		fmt.Fprintf(out, "merge failed, %d line(s) kept locally: %v\n", r.Sent, r.Err)
	case r.Skipped:
		fmt.Fprintln(out, "nothing to merge")
	default:
		fmt.Fprintf(out, "merged %d of %d line(s)\n", r.Merged, r.Sent)
	}
}
