// console is a headless helpdesk console: it keeps one view of the record
// store current over the push channel and prints every change as a JSON line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/console"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/push"
	"github.com/spec-kit/helpdesk/internal/storeclient"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cc := cfg.Console

	var (
		view      string
		concernID string
		params    storeclient.ListParams
		badges    []string
	)
	flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
	flagSet.StringVar(&cc.APIURL, "api-url", cc.APIURL, "record store base URL")
	flagSet.StringVar(&cc.PushURL, "push-url", cc.PushURL, "push channel websocket URL")
	flagSet.StringVar(&cc.Token, "token", cc.Token, "bearer token for the store and push channel")
	flagSet.DurationVar(&cc.CacheGC, "gc", cc.CacheGC, "how long an unobserved cache entry survives")
	flagSet.DurationVar(&cc.ReconnectMin, "reconnect-min", cc.ReconnectMin, "first reconnect delay")
	flagSet.DurationVar(&cc.ReconnectMax, "reconnect-max", cc.ReconnectMax, "reconnect delay ceiling")
	flagSet.StringVar(&view, "view", string(console.ViewConcerns), "view to observe: concerns, concern, history, holds, transfers, closings, notifications")
	flagSet.StringVar(&concernID, "concern", "", "concern id for the concern and history views")
	flagSet.IntVar(&params.PageNumber, "page", 1, "page number")
	flagSet.IntVar(&params.PageSize, "page-size", 20, "page size")
	flagSet.StringVar(&params.Search, "search", "", "free-text search")
	flagSet.StringSliceVar(&params.Statuses, "status", nil, "status filters, repeatable")
	flagSet.StringVar(&params.Scope, "scope", "", "list scope: mine, pending or approvals")
	flagSet.StringSliceVar(&badges, "badge", nil, "badge buckets to print, for example closingApprovals")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if cc.Token == "" {
		return errors.New("a token is required (--token or CONSOLE_TOKEN)")
	}
	if cc.ReconnectMax < cc.ReconnectMin {
		return errors.New("--reconnect-max must not be below --reconnect-min")
	}

	// stdout carries the view updates.
	cfg.Logger.Output = "stderr"
	logger, err := observability.NewLogger(cfg.Logger, "console", cfg.App.Version)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storeclient.New(cc.APIURL, cc.Token,
		storeclient.WithTimeout(cc.RequestTimeout),
		storeclient.WithLogger(logger.Named("store")))
	session := console.NewSession(store, cc, logger)
	session.OnPushStateChange(func(from, to push.State) {
		logger.Info("push channel", zap.Stringer("from", from), zap.Stringer("to", to))
	})

	handle, err := session.UseQuery(console.View(view), console.Params{List: params, ConcernID: concernID})
	if err != nil {
		return err
	}
	defer handle.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	emit := func(line map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(line)
	}
	for _, b := range badges {
		bucket := domain.Bucket(b)
		counts, cancel := session.SubscribeBadge(bucket)
		defer cancel()
		go func() {
			for n := range counts {
				emit(map[string]any{"badge": bucket, "count": n})
			}
		}()
	}
	go func() {
		for state := range handle.Updates() {
			if state.IsLoading && state.Data == nil {
				continue
			}
			line := map[string]any{"view": view, "version": state.Version, "stale": state.IsStale}
			if state.IsError {
				line["error"] = state.Err.Error()
			}
			if state.Data != nil {
				line["data"] = state.Data
			}
			emit(line)
		}
	}()

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
