package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/npezzotti/go-forumsync/internal/admin"
	"github.com/npezzotti/go-forumsync/internal/conversation"
	"github.com/npezzotti/go-forumsync/internal/realtime"
	"github.com/npezzotti/go-forumsync/internal/session"
	"github.com/npezzotti/go-forumsync/internal/stats"
	"github.com/npezzotti/go-forumsync/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	noColor     bool
	withHistory bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect and stream chat, presence and unread activity",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	listenCmd.Flags().BoolVar(&withHistory, "history", true, "print recent public chat history after connecting")
}

func runListen(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	su := stats.NewStatsUpdater(nil)
	sess, err := session.New(e.cfg, e.cred, e.log, su)
	if err != nil {
		return err
	}

	out := newRenderer(cmd.OutOrStdout(), !noColor && color.SupportColor())
	watch(sess, out)

	g, ctx := errgroup.WithContext(ctx)

	if e.cfg.MetricsAddr != "" {
		srv := admin.NewServer(e.log.Named("admin"), e.cfg.MetricsAddr, su, sess)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer sess.Logout()

		if err := sess.Start(ctx); err != nil {
			return err
		}
		if withHistory {
			if _, err := sess.LoadChatHistory(ctx); err != nil {
				e.log.Warn("failed to load chat history", zap.Error(err))
			}
			for _, m := range sess.Conversations().Get(conversation.PublicRoom).Messages() {
				out.chat(m)
			}
		}

		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	e.log.Info("shutdown complete")
	return nil
}

// watch registers the terminal view on the session.
func watch(sess *session.Session, out *renderer) {
	me := sess.UserId()
	sub := sess.Subscribe("cli")

	realtime.On(sub, realtime.ChatMessage, out.chat)
	realtime.On(sub, realtime.PrivateMessage, func(p realtime.PrivateMessagePayload) {
		out.private(p, me)
	})
	realtime.On(sub, realtime.NewNotification, out.notification)
	realtime.On(sub, realtime.UserTyping, func(p realtime.TypingPayload) {
		if p.UserId == me {
			return
		}
		key := conversation.PublicRoom
		if p.PeerId != 0 {
			key = conversation.Peer(p.UserId)
		}
		out.typing(key, sess.Typing().Active(key.PeerId()))
	})
	realtime.On(sub, realtime.OnlineUsers, func(realtime.OnlineUsersPayload) {
		out.roster(sess.Roster().List())
		out.online(len(sess.Roster().Online()), sess.Roster().Len())
	})
	// the session appends join and leave entries before views run
	presenceEntry := func() {
		if m, ok := sess.Conversations().Get(conversation.PublicRoom).Last(); ok {
			if m.Kind == types.KindJoin || m.Kind == types.KindLeave {
				out.chat(m)
			}
		}
	}
	realtime.On(sub, realtime.UserJoined, func(p realtime.UserJoinedPayload) {
		if p.User.Id != me {
			presenceEntry()
		}
	})
	realtime.On(sub, realtime.UserLeft, func(p realtime.UserLeftPayload) {
		if p.UserId != me {
			presenceEntry()
		}
	})

	sess.OnNotice(out.notice)
	sess.OnStateChange(out.state)
	sess.Unread().OnChange(out.counts)
}
