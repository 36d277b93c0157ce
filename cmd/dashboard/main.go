// Package main is a terminal admin dashboard. It signs in, checks that the
// account is an admin, then prints the submission list every time it changes,
// live over the admin socket or by polling while the socket is down.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/melotech/melotech/internal/client/dashboard"
	"github.com/melotech/melotech/internal/client/guard"
	"github.com/melotech/melotech/internal/client/identity"
	"github.com/melotech/melotech/internal/client/notify"
	"github.com/melotech/melotech/internal/client/remote"
	"github.com/melotech/melotech/internal/client/roles"
	"github.com/melotech/melotech/internal/client/session"
	"github.com/melotech/melotech/internal/client/submissions"
	"github.com/melotech/melotech/internal/config"
	"github.com/melotech/melotech/internal/model"
)

func main() {
	cfg, err := config.LoadDashboard()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Logs go to stderr so the table on stdout stays readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("dashboard stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Dashboard, logger *slog.Logger) error {
	gateway := identity.New(cfg.URL, logger)
	rest := remote.New(cfg.URL, gateway.Token)
	resolver := roles.NewResolver(rest)

	auth := session.New(gateway, resolver, logger)
	auth.Start(ctx)
	defer auth.Close()

	if _, err := gateway.SignIn(ctx, cfg.Email, cfg.Password); err != nil {
		return err
	}
	defer func() {
		if err := gateway.SignOut(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("sign-out failed", slog.String("error", err.Error()))
		}
	}()

	state := auth.Refetch(ctx)
	if action := guard.DecidePath("/admin", state); action.Kind == guard.Redirect {
		return fmt.Errorf("%s is not an admin account (would be sent to %s)", cfg.Email, action.Path)
	}

	repo := submissions.New(gateway, resolver, rest, logger)
	rec := dashboard.New(repo, cfg.PollInterval, logger, dashboard.OnChange(func(items []model.Submission) {
		printTable(os.Stdout, items)
	}))

	channel := notify.New(notify.AdminEndpoint(cfg.URL), gateway.Token, logger,
		notify.OnSubmissionUpdate(rec.ApplyUpdate),
		notify.OnStatusChange(rec.ChannelStatus),
	)
	channel.Connect(ctx)
	defer channel.Close()

	return rec.Run(ctx)
}

func printTable(w io.Writer, items []model.Submission) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tARTIST\tBPM\tSTATUS\tRATING\tFEEDBACK")
	for _, s := range items {
		artist := "-"
		if s.Owner != nil && s.Owner.Name != "" {
			artist = s.Owner.Name
		}
		rating := "-"
		if s.Rating != nil {
			rating = strconv.Itoa(*s.Rating)
		}
		feedback := "-"
		if s.Feedback != nil && *s.Feedback != "" {
			feedback = *s.Feedback
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", s.ID, s.Title, artist, s.BPM, s.Status, rating, feedback)
	}
	tw.Flush()
	fmt.Fprintln(w)
}
