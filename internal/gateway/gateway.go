// Package gateway consumes Discord events and turns them into engagement
// records and registrations. It is the only package that talks to the chat
// platform; all market rules live behind the ledger and trading packages.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/observ"
)

// messageEvery is how often one member's messages count toward activity.
// Spam faster than this is ignored.
const messageEvery = 5 * time.Second

const voiceFlushEvery = 5 * time.Minute

type Gateway struct {
	session *discordgo.Session
	store   *ledger.Store
	metrics *observ.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	// reactorSeen dedups one reactor per target per day, key "target:reactor".
	reactorSeen map[string]struct{}
	voiceJoined map[int64]time.Time

	ctx context.Context
}

func New(token string, store *ledger.Store, metrics *observ.Metrics, logger *slog.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	g := &Gateway{
		session:     session,
		store:       store,
		metrics:     metrics,
		log:         logger,
		limiters:    make(map[int64]*rate.Limiter),
		reactorSeen: make(map[string]struct{}),
		voiceJoined: make(map[int64]time.Time),
	}
	session.AddHandler(g.onMessage)
	session.AddHandler(g.onReactionAdd)
	session.AddHandler(g.onVoiceState)
	session.AddHandler(g.onMemberAdd)
	return g, nil
}

// Run opens the gateway connection and blocks until ctx is cancelled,
// flushing long voice sessions every few minutes.
func (g *Gateway) Run(ctx context.Context) error {
	g.ctx = ctx
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("gateway open: %w", err)
	}
	defer g.session.Close()
	g.log.Info("gateway connected")

	t := time.NewTicker(voiceFlushEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			g.flushVoice(context.WithoutCancel(ctx))
			return nil
		case <-t.C:
			g.flushVoice(ctx)
		}
	}
}

// ResetDaily clears the per-day reaction dedup state. Called by the
// scheduler's midnight reset.
func (g *Gateway) ResetDaily() {
	g.mu.Lock()
	g.reactorSeen = make(map[string]struct{})
	g.mu.Unlock()
}

// Notify delivers a market announcement as a direct message. Sends happen
// on their own goroutine so scheduler sweeps never wait on Discord.
func (g *Gateway) Notify(_ context.Context, userID int64, message string) {
	go g.sendDM(userID, message)
}

func (g *Gateway) sendDM(userID int64, message string) {
	ch, err := g.session.UserChannelCreate(strconv.FormatInt(userID, 10))
	if err != nil {
		g.log.Debug("dm channel failed", slog.Int64("user", userID), slog.Any("error", err))
		return
	}
	if _, err := g.session.ChannelMessageSend(ch.ID, message); err != nil {
		g.log.Debug("dm send failed", slog.Int64("user", userID), slog.Any("error", err))
	}
}

func (g *Gateway) allowMessage(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(messageEvery), 1)
		g.limiters[userID] = lim
	}
	return lim.Allow()
}

func (g *Gateway) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	authorID, ok := parseSnowflake(m.Author.ID)
	if !ok {
		return
	}
	ctx := g.ctx
	g.ensureRegistered(ctx, m.Author)
	g.metrics.GatewayEvents.WithLabelValues("message").Inc()

	if g.allowMessage(authorID) {
		if err := g.store.RecordActivity(ctx, authorID, ledger.ActivityMessage, 1); err != nil {
			g.log.Warn("record message", slog.Any("error", err))
		}
	}

	// Replies credit the member being replied to.
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && !ref.Author.Bot {
		if targetID, ok := parseSnowflake(ref.Author.ID); ok && targetID != authorID {
			if err := g.store.RecordActivity(ctx, targetID, ledger.ActivityReply, 1); err != nil {
				g.log.Warn("record reply", slog.Any("error", err))
			}
		}
	}

	// Mentions credit each mentioned member once per message.
	seen := make(map[int64]struct{}, len(m.Mentions))
	for _, u := range m.Mentions {
		if u.Bot {
			continue
		}
		targetID, ok := parseSnowflake(u.ID)
		if !ok || targetID == authorID {
			continue
		}
		if _, dup := seen[targetID]; dup {
			continue
		}
		seen[targetID] = struct{}{}
		if err := g.store.RecordActivity(ctx, targetID, ledger.ActivityMention, 1); err != nil {
			g.log.Warn("record mention", slog.Any("error", err))
		}
	}
}

func (g *Gateway) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	reactorID, ok := parseSnowflake(r.UserID)
	if !ok {
		return
	}
	msg, err := s.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil || msg.Author == nil || msg.Author.Bot {
		return
	}
	targetID, ok := parseSnowflake(msg.Author.ID)
	if !ok || targetID == reactorID {
		return
	}
	g.metrics.GatewayEvents.WithLabelValues("reaction").Inc()

	key := fmt.Sprintf("%d:%d", targetID, reactorID)
	g.mu.Lock()
	_, dup := g.reactorSeen[key]
	if !dup {
		g.reactorSeen[key] = struct{}{}
	}
	g.mu.Unlock()
	if dup {
		return
	}
	if err := g.store.RecordActivity(g.ctx, targetID, ledger.ActivityReaction, 1); err != nil {
		g.log.Warn("record reaction", slog.Any("error", err))
	}
}

func (g *Gateway) onVoiceState(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	userID, ok := parseSnowflake(v.UserID)
	if !ok {
		return
	}
	g.metrics.GatewayEvents.WithLabelValues("voice").Inc()

	g.mu.Lock()
	defer g.mu.Unlock()
	if v.ChannelID != "" {
		if _, in := g.voiceJoined[userID]; !in {
			g.voiceJoined[userID] = time.Now()
		}
		return
	}
	joined, in := g.voiceJoined[userID]
	if !in {
		return
	}
	delete(g.voiceJoined, userID)
	minutes := int64(time.Since(joined).Minutes())
	if minutes > 0 {
		go g.recordVoice(userID, minutes)
	}
}

// flushVoice credits minutes accrued so far to members still in voice, so a
// marathon session does not wait for the leave event.
func (g *Gateway) flushVoice(ctx context.Context) {
	now := time.Now()
	g.mu.Lock()
	credits := make(map[int64]int64)
	for userID, joined := range g.voiceJoined {
		minutes := int64(now.Sub(joined).Minutes())
		if minutes > 0 {
			credits[userID] = minutes
			g.voiceJoined[userID] = joined.Add(time.Duration(minutes) * time.Minute)
		}
	}
	g.mu.Unlock()
	for userID, minutes := range credits {
		if err := g.store.RecordActivity(ctx, userID, ledger.ActivityVoice, minutes); err != nil {
			g.log.Warn("record voice", slog.Any("error", err))
		}
	}
}

func (g *Gateway) recordVoice(userID, minutes int64) {
	if err := g.store.RecordActivity(g.ctx, userID, ledger.ActivityVoice, minutes); err != nil {
		g.log.Warn("record voice", slog.Any("error", err))
	}
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	g.ensureRegistered(g.ctx, m.User)
}

func (g *Gateway) ensureRegistered(ctx context.Context, u *discordgo.User) {
	id, ok := parseSnowflake(u.ID)
	if !ok {
		return
	}
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	if _, err := g.store.RegisterOrFetch(ctx, id, u.Username, display, u.AvatarURL("")); err != nil {
		g.log.Warn("register member", slog.Int64("user", id), slog.Any("error", err))
	}
}

func parseSnowflake(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
