// Command runtime wires the Orchestrator, Tool Registry, Conversation
// Memory, Tool Approval Protocol, Session Metrics, and a Model Backend
// into a single process, then drives it from stdin/stdout for manual
// testing — a stand-in for the teacher's bubbletea TUI, which is out of
// scope here.
//
// Grounded on the teacher's cmd/symb/main.go: same config/credentials load
// order, same setupFileLogging-to-zerolog pattern, same --list/--continue/
// --session flag surface reused against Conversation Memory instead of
// store.Cache.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/backend"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/internal/conversation"
	"github.com/agentcore/runtime/internal/events"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/metrics"
	"github.com/agentcore/runtime/internal/orchestrator"
	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/specialist"
	"github.com/agentcore/runtime/internal/tools"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a conversation by ID")
	flagList := flag.Bool("l", false, "list conversations")
	flagContinue := flag.Bool("c", false, "continue the most recently used conversation")
	flag.StringVar(flagSession, "session", "", "resume a conversation by ID")
	flag.BoolVar(flagList, "list", false, "list conversations")
	flag.BoolVar(flagContinue, "continue", false, "continue the most recently used conversation")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	be, err := buildBackend(cfg, creds)
	if err != nil {
		fmt.Printf("Error building model backend: %v\n", err)
		os.Exit(1)
	}
	defer be.Close()

	registry := tools.NewRegistry()
	registry.StrictValidation = cfg.Agent.StrictToolValidation
	pad := &tools.Scratchpad{}
	fetchCache, err := buildFetchCache()
	if err != nil {
		fmt.Printf("Error opening WebFetch cache: %v\n", err)
		os.Exit(1)
	}
	defer fetchCache.Close()
	if err := tools.RegisterBuiltins(registry, pad, fetchCache); err != nil {
		fmt.Printf("Error registering builtin tools: %v\n", err)
		os.Exit(1)
	}

	store, closeStore, err := buildConversationStore(cfg)
	if err != nil {
		fmt.Printf("Error opening conversation store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	stdin := bufio.NewReader(os.Stdin)

	approvalProtocol := approval.New(cfg.Approval.ToPolicy())
	eventChannel := events.NewChannel(64)
	go drainEvents(eventChannel, approvalProtocol, stdin)

	var tracker *metrics.Tracker
	if cfg.ContextWindow.MaxTokens > 0 {
		tracker = metrics.NewTracker(cfg.ContextWindow.MaxTokens, store, nil)
	}

	orch := &orchestrator.Orchestrator{
		Backend:    be,
		Registry:   registry,
		Memory:     store,
		Approval:   approvalProtocol,
		Events:     eventChannel,
		Metrics:    tracker,
		Scratchpad: pad,
		Config:     cfg.Agent.ToPorts(),

		MaxToolRounds: cfg.Agent.MaxToolRounds,
	}
	// summarizer needs the finished Orchestrator's own Backend/Config,
	// so the Tracker's Summarizer is wired in once orch exists.
	if tracker != nil {
		tracker.Summarizer = summarizer{backend: be, config: orch.Config}
	}

	specialistManager := &specialist.Manager{
		Backend:  be,
		Registry: registry,
		Approval: approvalProtocol,
		Store:    store,
		Events:   eventChannel,
	}
	if err := specialist.RegisterTool(specialistManager); err != nil {
		fmt.Printf("Error registering SpecialistAgent tool: %v\n", err)
		os.Exit(1)
	}
	if dataDir, err := config.DataDir(); err == nil {
		if err := registry.WriteManifest(filepath.Join(dataDir, "tools.json")); err != nil {
			log.Warn().Err(err).Msg("failed to write tool manifest")
		}
	}

	if *flagList {
		listConversations(store)
		return
	}

	conversationID := resolveConversation(*flagSession, *flagContinue, store)
	fmt.Printf("runtime ready — conversation %s. Type a message and press enter (Ctrl-D to quit).\n", conversationID)

	runREPL(orch, conversationID, stdin)
}

// buildBackend selects and constructs the Model Backend Interface
// implementation named by cfg.DefaultProvider, pointed at its configured
// endpoint and authenticated with the matching credential.
func buildBackend(cfg *config.Config, creds *config.Credentials) (backend.Backend, error) {
	name := cfg.DefaultProvider
	if name == "" {
		for n := range cfg.Providers {
			name = n
			break
		}
	}
	providerCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found in config", name)
	}

	if strings.EqualFold(name, "anthropic") {
		apiKey := creds.GetAPIKey(name)
		return backend.NewAnthropic(apiKey, providerCfg.Model, 4096), nil
	}
	return backend.NewOpenAICompatible(name, providerCfg.Endpoint, providerCfg.Model, providerCfg.Temperature), nil
}

// fetchCacheTTL controls how long a WebFetch result stays fresh before a
// repeat fetch hits the network again.
const fetchCacheTTL = 24 * time.Hour

func buildFetchCache() (*tools.FetchCache, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return tools.OpenFetchCache(filepath.Join(dataDir, "webfetch-cache.db"), fetchCacheTTL)
}

func buildConversationStore(cfg *config.Config) (*conversation.Store, func(), error) {
	var messages memory.Store
	switch cfg.Memory.Backend {
	case "sqlite":
		fs, err := memory.OpenFileStore(cfg.Memory.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite memory store: %w", err)
		}
		messages = fs
	default:
		messages = memory.NewInMemory()
	}

	store := conversation.New(messages, messages)
	closeFn := func() {
		if closer, ok := messages.(interface{ Close() error }); ok {
			closer.Close()
		}
	}
	return store, closeFn, nil
}

// summarizer adapts the runtime's Model Backend into a metrics.Summarizer
// the same way internal/orchestrator's own backendSummarizer does; it's
// duplicated here (rather than exported from orchestrator) since the
// composition root is the only place outside that package that needs one.
type summarizer struct {
	backend backend.Backend
	config  ports.AgentConfig
}

func (s summarizer) Summarize(ctx context.Context, history []ports.Message) (ports.Message, error) {
	req := backend.CompletionRequest{
		Messages: append(append([]ports.Message{}, history...), ports.Message{
			Role: ports.RoleUser,
			Content: ports.TextContent("Summarize the conversation above in a few paragraphs, " +
				"preserving any decisions made, open questions, file paths, and in-progress work."),
		}),
		Config: s.config,
	}
	stream, err := s.backend.StreamCompletion(ctx, req)
	if err != nil {
		return ports.Message{}, fmt.Errorf("summarize stream: %w", err)
	}
	resp, err := backend.Collect(ctx, stream, nil)
	if err != nil {
		return ports.Message{}, fmt.Errorf("summarize collect: %w", err)
	}
	return ports.Message{
		Role:    ports.RoleSystem,
		Content: ports.TextContent("Summary of prior conversation (history was compacted to stay within the context window):\n\n" + resp.Content),
	}, nil
}

// drainEvents prints each AgentEvent and, for ToolApprovalRequired, prompts
// the operator on stdin for a decision and resolves it — a stand-in for
// whatever approval UI a real deployment presents.
func drainEvents(ch *events.Channel, protocol *approval.Protocol, stdin *bufio.Reader) {
	for evt := range ch.Events() {
		switch evt.Type {
		case ports.EventToolApprovalRequired:
			name := ""
			if len(evt.ToolCalls) > 0 {
				name = evt.ToolCalls[0].Name
			}
			fmt.Printf("\n[approval required] %s — allow? [y/N] ", name)
			decision := approval.DecisionDenied
			if answer, err := stdin.ReadString('\n'); err == nil && strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
				decision = approval.DecisionAllowed
			}
			if err := protocol.Resolve(evt.ApprovalID, decision); err != nil {
				log.Warn().Err(err).Str("approvalId", evt.ApprovalID).Msg("failed to resolve approval")
			}
		case ports.EventError:
			fmt.Printf("[error] %s\n", evt.Error)
		}
	}
}

func newConversationID() string {
	return uuid.NewString()
}

func resolveConversation(flagSession string, flagContinue bool, store *conversation.Store) string {
	ctx := context.Background()
	switch {
	case flagSession != "":
		return flagSession

	case flagContinue:
		ids, err := store.List(ctx)
		if err != nil || len(ids) == 0 {
			fmt.Println("No conversations to continue; starting a new one")
			return newConversationID()
		}
		latest := ids[0]
		var latestAt time.Time
		for _, id := range ids {
			if meta, err := store.Metadata(ctx, id); err == nil && meta.UpdatedAt.After(latestAt) {
				latest, latestAt = id, meta.UpdatedAt
			}
		}
		return latest

	default:
		return newConversationID()
	}
}

func listConversations(store *conversation.Store) {
	ids, err := store.List(context.Background())
	if err != nil {
		fmt.Printf("Error listing conversations: %v\n", err)
		return
	}
	if len(ids) == 0 {
		fmt.Println("No conversations found")
		return
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func runREPL(orch *orchestrator.Orchestrator, conversationID string, stdin *bufio.Reader) {
	ctx := context.Background()
	for {
		fmt.Print("> ")
		raw, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		reply, err := orch.Send(ctx, conversationID, ports.TextContent(line))
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "runtime.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}
