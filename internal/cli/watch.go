package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-qa/internal/app"
	"classroom-qa/internal/config"
	"classroom-qa/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewWatchCmd signs in, joins a room and prints its questions on every
// poll until interrupted.
func NewWatchCmd(configPath *string) *cobra.Command {
	var room, email, password string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room's questions from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if room == "" {
				return errors.New("--room is required")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or QA_EMAIL and QA_PASSWORD) are required")
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), *configPath, room, email, password)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "join code or link of the room to follow")
	cmd.Flags().StringVar(&email, "email", os.Getenv("QA_EMAIL"), "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("QA_PASSWORD"), "account password")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, configPath, code, email, password string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildBoard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.board.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	room, session, err := rt.board.JoinRoom(ctx, session, code, "")
	if err != nil {
		return fmt.Errorf("join %s: %w", code, err)
	}
	logger.Info("watching room", zap.String("room_id", room.ID), zap.String("code", room.Code))

	interval := config.TTLDuration(cfg.Poll.Interval, app.DefaultPollInterval)
	for snap := range app.NewPoller(rt.board, interval).Watch(ctx, session, room.ID) {
		if snap.Err != nil {
			logger.Warn("refresh failed", zap.Error(snap.Err))
			continue
		}
		printSnapshot(out, room, snap)
	}
	return nil
}

func printSnapshot(out io.Writer, room domain.Room, snap app.Snapshot) {
	fmt.Fprintf(out, "== %s (%s) %s, %d questions\n", room.Name, room.Code, snap.TakenAt.Format(time.Kitchen), len(snap.Questions))
	for _, q := range snap.Questions {
		author := q.Author
		if author == "" {
			author = "anonymous"
		}
		fmt.Fprintf(out, "[%s] %s (%s) +%d like +%d thanks\n", q.Status, q.Text, author, q.Reactions.Like, q.Reactions.Thanks)
		for _, a := range q.Answers {
			fmt.Fprintf(out, "    %s: %s\n", a.Role, a.Text)
		}
	}
}
