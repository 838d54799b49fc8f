package discordbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slothflix/lldap-bridge/internal/config"
	"github.com/slothflix/lldap-bridge/internal/provision"
	"github.com/slothflix/lldap-bridge/internal/reconcile"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

// Bot is the Discord front end: it registers the /register and
// /sync_subscribers slash commands and starts the scheduled sync once the
// gateway session is ready.
type Bot struct {
	session     *discordgo.Session
	provisioner *provision.Service
	reconciler  *reconcile.Reconciler

	guildID            string
	serviceName        string
	publicURL          string
	subscriberRoleName string
	lifetimeRoleName   string
	syncInterval       time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg *config.Config, provisioner *provision.Service, reconciler *reconcile.Reconciler) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	return &Bot{
		session:            session,
		provisioner:        provisioner,
		reconciler:         reconciler,
		guildID:            cfg.Discord.GuildID,
		serviceName:        cfg.Discord.ServiceName,
		publicURL:          cfg.Directory.PublicURL,
		subscriberRoleName: cfg.Sync.SubscriberRoleName,
		lifetimeRoleName:   cfg.Sync.LifetimeRoleName,
		syncInterval:       cfg.Sync.Interval,
	}, nil
}

// Session exposes the underlying gateway session (the roster source needs it).
func (b *Bot) Session() *discordgo.Session { return b.session }

// SetReconciler wires the reconciler after construction. The roster source
// needs the bot's session, so the two are built in that order. Must be called
// before Start.
func (b *Bot) SetReconciler(r *reconcile.Reconciler) { b.reconciler = r }

// Ready reports whether the gateway session is connected.
func (b *Bot) Ready() bool {
	return b.session.State != nil && b.session.State.User != nil
}

// Start opens the gateway session, registers commands and launches the
// scheduled sync loop. It returns once the session is open; the sync loop
// runs until Close.
func (b *Bot) Start(ctx context.Context) error {
	b.runCtx, b.runCancel = context.WithCancel(ctx)

	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Infof("discord session ready as %s", r.User.Username)
	})
	b.session.AddHandler(b.handleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}

	if err := b.registerCommands(); err != nil {
		b.session.Close()
		return err
	}

	go b.reconciler.Run(b.runCtx, b.syncInterval)
	return nil
}

// Close stops the sync loop and the gateway session.
func (b *Bot) Close() {
	if b.runCancel != nil {
		b.runCancel()
	}
	if err := b.session.Close(); err != nil {
		logger.Warnf("discord close: %v", err)
	}
}

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "register",
			Description: fmt.Sprintf("Register a new %s account", b.serviceName),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "email",
					Description: "Email address for the new account",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Desired username (defaults to your Discord name)",
					Required:    false,
				},
			},
		},
		{
			Name:        "sync_subscribers",
			Description: "Manually sync Discord roles with directory groups (admin only)",
		},
	}
	appID := b.session.State.User.ID
	for _, cmd := range commands {
		if _, err := b.session.ApplicationCommandCreate(appID, b.guildID, cmd); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	logger.Infof("registered %d discord commands", len(commands))
	return nil
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	switch i.ApplicationCommandData().Name {
	case "register":
		b.handleRegister(s, i)
	case "sync_subscribers":
		b.handleManualSync(s, i)
	}
}

func (b *Bot) handleRegister(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		respond(s, i, "❌ This command only works inside the server.")
		return
	}

	ctx := context.Background()
	roster := NewRoster(s)

	subscriberRoleID, err := roster.resolveRole(ctx, b.guildID, b.subscriberRoleName)
	if err != nil {
		respond(s, i, "❌ Error: the subscriber role does not exist. Please contact an admin.")
		return
	}
	if !hasRole(i.Member, subscriberRoleID) {
		respond(s, i, fmt.Sprintf("❌ You must have the **%s** role to register an account.", b.subscriberRoleName))
		return
	}

	lifetime := false
	if b.lifetimeRoleName != "" {
		if lifetimeRoleID, err := roster.resolveRole(ctx, b.guildID, b.lifetimeRoleName); err == nil {
			lifetime = hasRole(i.Member, lifetimeRoleID)
		}
	}

	email := ""
	username := i.Member.User.Username
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "email":
			email = opt.StringValue()
		case "username":
			username = opt.StringValue()
		}
	}

	// provisioning does network round-trips; acknowledge first
	if err := deferReply(s, i); err != nil {
		logger.Warnf("register: defer failed: %v", err)
		return
	}

	tempPassword, err := b.provisioner.CreateAccount(ctx, provision.CreateAccountRequest{
		Username:   username,
		Email:      email,
		DiscordID:  i.Member.User.ID,
		Subscriber: true,
		Lifetime:   lifetime,
	})
	if err != nil {
		followup(s, i, b.provisionErrorMessage(err))
		return
	}

	followup(s, i, fmt.Sprintf(
		":white_check_mark: **__%s Account Created!__**\n\n"+
			"__**Use this link to log in and change your password:**__ %s\n\n"+
			"**Username**: `%s`\n"+
			"**Temporary Password**: `%s`",
		b.serviceName, b.publicURL, username, tempPassword))
}

func (b *Bot) provisionErrorMessage(err error) string {
	var verr *provision.ValidationError
	var derr *provision.DuplicateError
	var perr *provision.PasswordSetError
	switch {
	case errors.As(err, &verr):
		return "❌ " + verr.Reason + "."
	case errors.As(err, &derr):
		if derr.Field == "email" {
			return "❌ This email is already associated with an account."
		}
		return "❌ You have already linked your Discord to an account."
	case errors.As(err, &perr):
		return "❌ Your account was created but setting its password failed. Please contact an admin."
	default:
		logger.Errorf("register failed: %v", err)
		return "❌ Failed to create an account. Please try again later or contact an admin."
	}
}

func (b *Bot) handleManualSync(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.Permissions&discordgo.PermissionAdministrator == 0 {
		respond(s, i, "❌ You need administrator permissions to run a manual sync.")
		return
	}
	if err := deferReply(s, i); err != nil {
		logger.Warnf("manual sync: defer failed: %v", err)
		return
	}

	tallies, err := b.reconciler.Sync(context.Background())
	if err != nil {
		logger.Errorf("manual sync failed: %v", err)
		followup(s, i, fmt.Sprintf("❌ **Error during sync:** %v", err))
		return
	}
	metrics.SyncRuns.WithLabelValues("manual").Inc()

	parts := make([]string, 0, len(tallies))
	for role, tally := range tallies {
		parts = append(parts, fmt.Sprintf("%s: removed %d, added %d", role, tally.Removed, tally.Added))
	}
	if len(parts) == 0 {
		followup(s, i, "⚠️ **No configured roles resolved; nothing to sync.**")
		return
	}
	followup(s, i, "✅ **Sync completed.** "+strings.Join(parts, "; "))
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		logger.Warnf("interaction respond: %v", err)
	}
}

func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func followup(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		logger.Warnf("interaction followup: %v", err)
	}
}
