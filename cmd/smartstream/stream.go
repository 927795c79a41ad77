package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/smartstream/internal/domain"
	"github.com/ashureev/smartstream/internal/feed"
	"github.com/ashureev/smartstream/internal/metrics"
	"github.com/ashureev/smartstream/internal/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	userID   string
	userName string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run one streaming session in the foreground",
	Long:  `Run one streaming session without the control API. Replies are logged and the session ends on Ctrl-C or when the backend closes.`,
	RunE:  runStream,
}

func init() {
	streamCmd.Flags().StringVar(&userID, "user-id", "", "user id sent in the handshake (default: random)")
	streamCmd.Flags().StringVar(&userName, "name", "", "display name sent in the handshake")
}

// logNotifier writes reply feed events to the log.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Publish(_ string, ev feed.Event) {
	switch ev.Type {
	case feed.TypeText:
		n.logger.Info("Reply", "session_id", ev.SessionID, "text", ev.Content)
	case feed.TypeNotice:
		n.logger.Warn("Notice", "session_id", ev.SessionID, "notice", ev.Content)
	default:
		n.logger.Debug("Session state", "session_id", ev.SessionID, "state", ev.Content)
	}
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	devices, err := devicesFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	user := domain.User{UserID: userID, UserName: userName}
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := session.NewController(sessionConfig(cfg), devices, logNotifier{logger: logger}, metrics.New(), logger)
	status, err := ctrl.Start(ctx, user)
	if err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}
	s, ok := ctrl.Session(user.UserID)
	if !ok {
		return fmt.Errorf("session ended during start: %s", status.LastError)
	}
	logger.Info("Streaming", "session_id", status.SessionID, "backend", cfg.Backend.URL)

	select {
	case <-ctx.Done():
		ctrl.Stop(user.UserID)
		logger.Info("Stopped", "session_id", status.SessionID)
		return nil
	case <-s.Done():
		if err := s.Err(); err != nil {
			return fmt.Errorf("session ended: %w", err)
		}
		return nil
	}
}
