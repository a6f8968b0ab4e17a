package bot

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/commands"
	"github.com/susu3304/warikanbot/internal/entry"
)

// expiryWorker periodically drops idle expense drafts and tells the
// channel they were abandoned.
type expiryWorker struct {
	machine  *entry.Machine
	session  noticeSession
	log      *zap.Logger
	stopChan chan struct{}
	ticker   *time.Ticker
	interval time.Duration
}

// Minimal session interface for sending channel messages.
type noticeSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func newExpiryWorker(session noticeSession, machine *entry.Machine, log *zap.Logger) *expiryWorker {
	return &expiryWorker{
		machine:  machine,
		session:  session,
		log:      log,
		stopChan: make(chan struct{}),
		interval: time.Minute,
	}
}

func (w *expiryWorker) start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

func (w *expiryWorker) stop() {
	if w == nil {
		return
	}
	close(w.stopChan)
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *expiryWorker) loop() {
	ctx := context.Background()
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *expiryWorker) tick(ctx context.Context) {
	expired, err := w.machine.Expire(ctx)
	if err != nil {
		w.log.Error("expire drafts", zap.Error(err))
	}
	for _, d := range expired {
		if d.ChannelID == "" {
			continue
		}
		if err := w.sendWithRetry(ctx, d.ChannelID, commands.TimeoutNotice(d)); err != nil {
			w.log.Warn("send timeout notice", zap.String("channel_id", d.ChannelID), zap.String("user_id", d.UserID), zap.Error(err))
		}
	}
}

func (w *expiryWorker) sendWithRetry(ctx context.Context, channelID, content string) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := w.session.ChannelMessageSend(channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
