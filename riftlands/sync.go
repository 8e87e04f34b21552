package riftlands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// ErrSyncInProgress is returned by [CommandSyncer.Sync] when a sync run
	// is already executing. Runs never overlap.
	ErrSyncInProgress = errors.New("command sync already in progress")
)

// SyncState describes where a [CommandSyncer] currently is in the
// clear/wait/push/verify cycle. Exposed so the status API can answer
// "why aren't my commands showing up yet" without log spelunking.
type SyncState string

const (
	SyncStateIdle                SyncState = "idle"
	SyncStateClearing            SyncState = "clearing"
	SyncStateAwaitingPropagation SyncState = "awaiting_propagation"
	SyncStateAttempting          SyncState = "attempting"
	SyncStateFallenBack          SyncState = "fallen_back"
	SyncStateDone                SyncState = "done"
	SyncStateExhausted           SyncState = "exhausted"
)

// Scope identifies an isolated namespace in which a set of application
// commands lives. A command registered in one scope is invisible in any
// other; the same name may exist in both the guild and global scope at once.
type Scope struct {
	// GuildID is the discord guild (server) ID. Empty means the global scope.
	GuildID string `json:"guild_id,omitempty"`
}

// GlobalScope is the application-wide command namespace.
var GlobalScope = Scope{}

// GuildScope returns a Scope for the given guild ID.
func GuildScope(id string) Scope {
	return Scope{GuildID: id}
}

// IsGlobal reports whether this is the global scope.
func (s Scope) IsGlobal() bool {
	return s.GuildID == ""
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return fmt.Sprintf("guild:%s", s.GuildID)
}

func (s Scope) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// ResolveScopes returns the ordered preference list of scopes a sync run
// should attempt - most specific first. With a configured guild ID this is
// [guild, global]; an empty guild ID means "global only", which is a valid
// configuration, not an error.
func ResolveScopes(guildID string) []Scope {
	if guildID == "" {
		return []Scope{GlobalScope}
	}
	return []Scope{GuildScope(guildID), GlobalScope}
}

// CommandRegistryClient is the remote command registry as this package sees
// it: discord's application command table, scoped per guild or global.
//
// All three methods may fail transiently. Clear and Replace are both backed
// by the bulk overwrite endpoint, so a Clear is just a Replace with an empty
// declaration set - there is deliberately no separate "hard reset" path.
type CommandRegistryClient interface {
	// Fetch returns the commands the registry currently reports for a scope.
	Fetch(ctx context.Context, scope Scope) ([]*discordgo.ApplicationCommand, error)

	// Replace atomically overwrites a scope's command set with the given
	// declarations, returning the commands the registry reports afterward.
	// The returned set is the registry's view, not an echo of the input -
	// immediately after a write it is occasionally incomplete.
	Replace(
		ctx context.Context,
		scope Scope,
		commands []*discordgo.ApplicationCommand,
	) ([]*discordgo.ApplicationCommand, error)

	// Clear removes every command registered in the given scope.
	Clear(ctx context.Context, scope Scope) error
}

// SyncReport is the outcome of one [CommandSyncer.Sync] run, intended for
// startup logging and the status API. Attempts counts pushes actually made;
// Discrepancies holds command names the registry reported missing or
// unexpected relative to the declaration set.
type SyncReport struct {
	// Scope the final (successful or last-attempted) push targeted
	Scope Scope `json:"scope"`

	// Commands the registry reported live after the final push
	Commands []*discordgo.ApplicationCommand `json:"commands"`

	// Number of push attempts made (1-based)
	Attempts int `json:"attempts"`

	// Declared names the registry didn't report, plus reported names
	// that were never declared. Sorted.
	Discrepancies []string `json:"discrepancies,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Degraded reports whether the run ended with zero live commands - the
// "exhausted retries" terminal condition. The caller decides whether that's
// fatal; the bot itself treats it as degraded and keeps running, since the
// message-based fallback still works and a later re-run can recover.
func (r SyncReport) Degraded() bool {
	return len(r.Commands) == 0
}

// CommandNames returns the names of the commands the registry reported
// live, in the order they were returned.
func (r SyncReport) CommandNames() []string {
	names := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		if c == nil {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

func (r SyncReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("scope", r.Scope),
		slog.Int("attempts", r.Attempts),
		slog.Int("commands_live", len(r.Commands)),
		slog.Any("command_names", r.CommandNames()),
		slog.Any("discrepancies", r.Discrepancies),
		slog.Time("started_at", r.StartedAt),
		slog.Time("finished_at", r.FinishedAt),
	)
}

// CommandSyncer makes the remote command registry match the local
// declaration set for one of a preference-ordered list of scopes.
//
// The registry is an eventually-consistent cache in front of the true
// command table: a push immediately after a clear can race the clear and be
// partially discarded, and the set a write reports back is occasionally
// incomplete for another round-trip. The syncer compensates with an explicit
// clear phase, a propagation wait before the first push, verification of
// the reported name set against the declared one, and a bounded retry loop
// that permanently falls back from the guild scope to global after the
// first zero-record guild attempt.
//
// A syncer is safe for concurrent use, but only one Sync run executes at a
// time; a second call while one is in flight returns [ErrSyncInProgress].
type CommandSyncer struct {
	client   CommandRegistryClient
	declared []*discordgo.ApplicationCommand
	scopes   []Scope

	// wait after the clear phase, before the first push
	propagationDelay time.Duration

	// wait between failed push attempts
	retryBackoff time.Duration

	maxAttempts int

	logger *slog.Logger

	running    atomic.Bool
	state      atomic.Value // SyncState
	reportMu   sync.RWMutex
	lastReport *SyncReport
}

// NewCommandSyncer returns a CommandSyncer pushing the given declaration set
// through client. The declaration set is captured as-is and must not be
// mutated afterward. Non-positive delay/backoff/attempt values fall back to
// the package defaults.
func NewCommandSyncer(
	client CommandRegistryClient,
	declared []*discordgo.ApplicationCommand,
	scopes []Scope,
	cfg CommandSyncConfig,
	logger *slog.Logger,
) *CommandSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	if len(scopes) == 0 {
		scopes = []Scope{GlobalScope}
	}
	if cfg.PropagationDelay <= 0 {
		cfg.PropagationDelay = DefaultSyncPropagationDelay
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultSyncRetryBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSyncMaxAttempts
	}
	s := &CommandSyncer{
		client:           client,
		declared:         declared,
		scopes:           scopes,
		propagationDelay: cfg.PropagationDelay,
		retryBackoff:     cfg.RetryBackoff,
		maxAttempts:      cfg.MaxAttempts,
		logger:           logger.With(loggerNameKey, "command_syncer"),
	}
	s.state.Store(SyncStateIdle)
	return s
}

// Syncing reports whether a Sync run is currently executing.
func (s *CommandSyncer) Syncing() bool {
	return s.running.Load()
}

// State returns the syncer's current position in the sync cycle.
func (s *CommandSyncer) State() SyncState {
	state, _ := s.state.Load().(SyncState)
	return state
}

func (s *CommandSyncer) setState(state SyncState) {
	s.state.Store(state)
}

// LastReport returns the report from the most recently finished Sync run,
// or nil if no run has finished yet.
func (s *CommandSyncer) LastReport() *SyncReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport
}

func (s *CommandSyncer) storeReport(report *SyncReport) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	s.lastReport = report
}

// Sync runs one full clear/wait/push/verify cycle and returns the resulting
// report. Exhausting every attempt is not an error: the report comes back
// with zero live commands and the caller decides how bad that is. The only
// error returns are a concurrent run ([ErrSyncInProgress]) and context
// cancellation during one of the waits.
func (s *CommandSyncer) Sync(ctx context.Context) (*SyncReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer func() {
		s.running.Store(false)
	}()

	report := &SyncReport{StartedAt: time.Now(), Scope: s.scopes[0]}

	s.clearPhase(ctx)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.setState(SyncStateAwaitingPropagation)
	s.logger.InfoContext(
		ctx,
		"waiting for clear to propagate before pushing commands",
		"propagation_delay", s.propagationDelay,
	)
	if err := sleepContext(ctx, s.propagationDelay); err != nil {
		s.setState(SyncStateIdle)
		return nil, err
	}

	expected := commandNameSet(s.declared)
	discrepancies := map[string]struct{}{}

	scopeIndex := 0
	var lastResult []*discordgo.ApplicationCommand

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		scope := s.scopes[scopeIndex]
		s.setState(SyncStateAttempting)
		report.Attempts = attempt
		report.Scope = scope

		result := s.attempt(ctx, scope, attempt, expected, discrepancies)
		lastResult = result

		if len(result) > 0 {
			s.setState(SyncStateDone)
			report.Commands = result
			break
		}

		if attempt == s.maxAttempts {
			s.setState(SyncStateExhausted)
			break
		}

		s.logger.WarnContext(
			ctx,
			"sync returned no commands, retrying",
			"scope", scope,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"retry_backoff", s.retryBackoff,
		)
		if err := sleepContext(ctx, s.retryBackoff); err != nil {
			s.setState(SyncStateIdle)
			return nil, err
		}

		// A guild-scoped push returning nothing usually means guild-level
		// registration isn't available to us at all (the bot was never
		// granted command permissions there), so retrying the guild scope
		// would waste the remaining attempts. Fall back to the next scope
		// permanently after the first failure.
		if attempt == 1 && !scope.IsGlobal() && scopeIndex+1 < len(s.scopes) {
			scopeIndex++
			s.setState(SyncStateFallenBack)
			s.logger.WarnContext(
				ctx,
				"guild sync returned no commands, falling back",
				"from", scope,
				"to", s.scopes[scopeIndex],
			)
		}
	}

	report.Commands = lastResult
	report.Discrepancies = sortedNames(discrepancies)
	report.FinishedAt = time.Now()
	s.storeReport(report)

	if report.Degraded() {
		s.logger.WarnContext(
			ctx,
			"exhausted sync attempts with no live commands",
			"report", report,
		)
	} else {
		s.logger.InfoContext(ctx, "command sync finished", "report", report)
	}
	return report, nil
}

// clearPhase wipes the global scope unconditionally, and the guild scope
// when one is configured. Stale state from a previous run (a renamed
// command, an abandoned scope) is indistinguishable from desired state
// without this. A failed clear is logged and the run continues - the
// subsequent bulk overwrite is idempotent enough to self-correct.
func (s *CommandSyncer) clearPhase(ctx context.Context) {
	s.setState(SyncStateClearing)

	cleared := map[Scope]bool{}
	for _, scope := range append([]Scope{GlobalScope}, s.scopes...) {
		if cleared[scope] {
			continue
		}
		cleared[scope] = true
		if err := s.client.Clear(ctx, scope); err != nil {
			s.logger.WarnContext(
				ctx,
				"error clearing remote commands",
				tint.Err(err),
				"scope", scope,
			)
		} else {
			s.logger.InfoContext(ctx, "cleared remote commands", "scope", scope)
		}
	}
}

// attempt performs one push+verify cycle against the given scope. A client
// error is treated the same as a zero-record result: logged, recovered by
// the caller's retry loop. Verification only applies to non-empty results;
// an empty result is a push failure, not a discrepancy.
func (s *CommandSyncer) attempt(
	ctx context.Context,
	scope Scope,
	attempt int,
	expected map[string]struct{},
	discrepancies map[string]struct{},
) []*discordgo.ApplicationCommand {
	result, err := s.client.Replace(ctx, scope, s.declared)
	if err != nil {
		s.logger.WarnContext(
			ctx,
			"error pushing commands",
			tint.Err(err),
			"scope", scope,
			"attempt", attempt,
		)
		return nil
	}

	got := commandNameSet(result)
	s.logger.InfoContext(
		ctx,
		"push attempt finished",
		"scope", scope,
		"attempt", attempt,
		"commands_reported", len(result),
		"names", sortedNames(got),
	)

	if len(result) == 0 || len(expected) == 0 {
		return result
	}

	for name := range expected {
		if _, ok := got[name]; !ok {
			discrepancies[name] = struct{}{}
			s.logger.WarnContext(
				ctx,
				"declared command missing from registry response",
				"command", name,
				"scope", scope,
			)
		}
	}
	for name := range got {
		if _, ok := expected[name]; !ok {
			discrepancies[name] = struct{}{}
			s.logger.WarnContext(
				ctx,
				"registry reported undeclared command",
				"command", name,
				"scope", scope,
			)
		}
	}
	return result
}

func commandNameSet(commands []*discordgo.ApplicationCommand) map[string]struct{} {
	names := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		if c == nil {
			continue
		}
		names[c.Name] = struct{}{}
	}
	return names
}

func sortedNames(names map[string]struct{}) []string {
	if len(names) == 0 {
		return nil
	}
	rv := make([]string, 0, len(names))
	for name := range names {
		rv = append(rv, name)
	}
	sort.Strings(rv)
	return rv
}

// sleepContext suspends for d, returning early with the context's error if
// it's canceled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// commandRegistry implements CommandRegistryClient over a discord session.
// Clear is a bulk overwrite with an empty set, so clear and replace
// converge on the same endpoint and the same failure modes.
type commandRegistry struct {
	session DiscordSessionHandler
	appID   string
	logger  *slog.Logger
}

// NewCommandRegistry returns the discord-backed CommandRegistryClient for
// the given application ID.
func NewCommandRegistry(
	session DiscordSessionHandler,
	appID string,
	logger *slog.Logger,
) CommandRegistryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &commandRegistry{
		session: session,
		appID:   appID,
		logger:  logger.With(loggerNameKey, "command_registry"),
	}
}

func (c *commandRegistry) Fetch(ctx context.Context, scope Scope) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.session.ApplicationCommands(c.appID, scope.GuildID)
}

func (c *commandRegistry) Replace(
	ctx context.Context,
	scope Scope,
	commands []*discordgo.ApplicationCommand,
) ([]*discordgo.ApplicationCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.session.ApplicationCommandBulkOverwrite(
		c.appID,
		scope.GuildID,
		commands,
	)
}

func (c *commandRegistry) Clear(ctx context.Context, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.session.ApplicationCommandBulkOverwrite(
		c.appID,
		scope.GuildID,
		[]*discordgo.ApplicationCommand{},
	)
	return err
}
