// Package bot is the admin operations bot. Every command is checked against
// the admin role of the sender's account.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"earnhub/internal/apperr"
	"earnhub/internal/ledger"
	"earnhub/internal/referral"
	"earnhub/internal/rounds"
	"earnhub/internal/users"
	"earnhub/internal/worker"
)

const usage = `commands:
/status
/ensure
/ledger <user>
/team <user>
/job [name]
/approve <variant> <deposit>
/reject <variant> <deposit> <reason>
/open <variant> <round>
/lock <variant> <round>
/draw <variant>
/winner <variant> <round> <user>
/void <variant> <participant> <reason>
/paid <variant> <round>`

type Bot struct {
	Instance *telego.Bot
	users    *users.Service
	ledger   *ledger.Accessor
	team     *referral.Walker
	rounds   map[string]*rounds.Manager
	jobs     *worker.Runner
}

func NewBot(instance *telego.Bot, registry *users.Service, acc *ledger.Accessor, team *referral.Walker, managers map[string]*rounds.Manager, jobs *worker.Runner) *Bot {
	return &Bot{Instance: instance, users: registry, ledger: acc, team: team, rounds: managers, jobs: jobs}
}

// Start handles commands until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("bot: long polling: %w", err)
	}
	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("bot: handler: %w", err)
	}

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if message.From == nil {
			return nil
		}
		reply := b.Execute(ctx.Context(), message.From.ID, message.Text)
		_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), reply))
		if err != nil {
			slog.Warn("bot reply failed", "chat_id", message.Chat.ID, "error", err)
		}
		return nil
	}, th.AnyCommand())

	slog.Info("admin bot started")
	if err := handler.Start(); err != nil {
		return fmt.Errorf("bot: handler: %w", err)
	}
	return nil
}

// Execute runs one command line for the sender and returns the reply text.
func (b *Bot) Execute(ctx context.Context, telegramID int64, text string) string {
	args := strings.Fields(text)
	if len(args) == 0 {
		return usage
	}
	cmd := strings.TrimPrefix(strings.SplitN(args[0], "@", 2)[0], "/")
	args = args[1:]

	admin, err := b.users.GetByTelegramID(ctx, telegramID)
	if err != nil || !admin.IsAdmin() {
		slog.Warn("bot command refused", "telegram_id", telegramID, "command", cmd)
		return "not authorized"
	}

	reply, err := b.dispatch(ctx, admin.ID, cmd, args)
	if err != nil {
		if apperr.HTTPStatus(err) == http.StatusInternalServerError {
			slog.Error("bot command failed", "op", cmd, "actor_id", admin.ID, "args", args, "error", err)
			return "failed, see logs"
		}
		return "rejected: " + err.Error()
	}
	slog.Info("bot command", "op", cmd, "actor_id", admin.ID, "args", args)
	return reply
}

func (b *Bot) dispatch(ctx context.Context, actorID uint, cmd string, args []string) (string, error) {
	switch cmd {
	case "status":
		return b.status(ctx)
	case "ensure":
		return b.job(ctx, worker.JobEnsureRounds)
	case "job":
		if len(args) != 1 {
			return "jobs: " + strings.Join(b.jobs.Names(), ", "), nil
		}
		return b.job(ctx, args[0])
	case "ledger":
		ids, _, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		return b.statement(ctx, ids[0])
	case "team":
		ids, _, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		return b.teamReport(ctx, ids[0])
	}

	if len(args) == 0 {
		return usage, nil
	}
	m, ok := b.rounds[args[0]]
	if !ok {
		return "", fmt.Errorf("%w: %q", rounds.ErrUnknownVariant, args[0])
	}
	args = args[1:]

	switch cmd {
	case "approve":
		ids, _, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		p, err := m.ApproveDeposit(ctx, actorID, ids[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("deposit %d approved, participant %d (%s)", ids[0], p.ID, p.HashedUserID), nil
	case "reject":
		ids, reason, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		if _, err := m.RejectDeposit(ctx, actorID, ids[0], reason); err != nil {
			return "", err
		}
		return fmt.Sprintf("deposit %d rejected", ids[0]), nil
	case "open", "lock":
		ids, _, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		step := m.Open
		if cmd == "lock" {
			step = m.Lock
		}
		r, err := step(ctx, actorID, ids[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("round %d %s", r.ID, r.Status), nil
	case "draw":
		current, err := m.Current(ctx)
		if err != nil {
			return "", err
		}
		r, err := m.RandomizeWinner(ctx, actorID, current.ID)
		if err != nil {
			return "", err
		}
		if r.WinnerUserID == nil {
			return fmt.Sprintf("round %d closed without a winner", r.ID), nil
		}
		return fmt.Sprintf("round %d winner: user %d", r.ID, *r.WinnerUserID), nil
	case "winner":
		ids, _, err := parseIDs(args, 2)
		if err != nil {
			return "", err
		}
		if _, err := m.ManuallySetWinner(ctx, actorID, ids[0], ids[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("round %d winner set to user %d", ids[0], ids[1]), nil
	case "void":
		ids, reason, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		if _, err := m.VoidEntry(ctx, actorID, ids[0], reason); err != nil {
			return "", err
		}
		return fmt.Sprintf("participant %d eliminated", ids[0]), nil
	case "paid":
		ids, _, err := parseIDs(args, 1)
		if err != nil {
			return "", err
		}
		if _, err := m.MarkWinnerPaid(ctx, actorID, ids[0]); err != nil {
			return "", err
		}
		return fmt.Sprintf("round %d marked paid", ids[0]), nil
	}
	return usage, nil
}

func (b *Bot) status(ctx context.Context) (string, error) {
	variants := make([]string, 0, len(b.rounds))
	for v := range b.rounds {
		variants = append(variants, v)
	}
	sort.Strings(variants)

	var sb strings.Builder
	for _, v := range variants {
		s, err := b.rounds[v].Current(ctx)
		if err != nil {
			if apperr.HTTPStatus(err) == http.StatusNotFound {
				fmt.Fprintf(&sb, "%s: no round\n", v)
				continue
			}
			return "", err
		}
		fmt.Fprintf(&sb, "%s: round %d %s, %d participants, ends %s", v, s.ID, s.Status, s.TotalParticipants,
			s.EndTime.Format("2006-01-02 15:04 MST"))
		if s.Winner != nil {
			fmt.Fprintf(&sb, ", winner %s", s.Winner.ParticipantID)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (b *Bot) statement(ctx context.Context, userID uint) (string, error) {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	entries, err := b.ledger.Entries(ctx, userID, 10)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "user %d balance %s, qualified %t", user.ID, user.Balance.String(), user.Qualified)
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s %s %s", e.CreatedAt.UTC().Format("2006-01-02"), e.Type, e.Amount.String())
	}
	return sb.String(), nil
}

func (b *Bot) teamReport(ctx context.Context, userID uint) (string, error) {
	if _, err := b.users.Get(ctx, userID); err != nil {
		return "", err
	}
	stats, err := b.team.TeamStats(ctx, userID)
	if err != nil {
		return "", err
	}
	tree, err := b.team.BuildTeamTree(ctx, userID, referral.MaxTreeDepth)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "user %d team: direct %d (%d active), second level %d (%d active)",
		userID, stats.Direct, stats.DirectActive, stats.SecondLevel, stats.SecondLevelActive)
	writeTree(&sb, tree.Children)
	return sb.String(), nil
}

func writeTree(sb *strings.Builder, nodes []*referral.TeamNode) {
	for _, n := range nodes {
		mark := ""
		if n.Qualified {
			mark = " *"
		}
		fmt.Fprintf(sb, "\n%s%s (%d)%s", strings.Repeat("  ", n.Level-1), n.Username, n.UserID, mark)
		writeTree(sb, n.Children)
	}
}

func (b *Bot) job(ctx context.Context, name string) (string, error) {
	report, err := b.jobs.Run(ctx, name)
	if err != nil {
		return "", err
	}
	out := report.String()
	if report.Err != nil {
		out += "\n" + report.Err.Error()
	}
	return out, nil
}

// parseIDs reads n numeric ids and joins the remaining args as free text.
func parseIDs(args []string, n int) ([]uint, string, error) {
	if len(args) < n {
		return nil, "", fmt.Errorf("%w: expected %d ids", apperr.ErrValidation, n)
	}
	ids := make([]uint, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(args[i], 10, 64)
		if err != nil || v == 0 {
			return nil, "", fmt.Errorf("%w: bad id %q", apperr.ErrValidation, args[i])
		}
		ids[i] = uint(v)
	}
	return ids, strings.Join(args[n:], " "), nil
}
