package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"codi/internal/commander"
	"codi/internal/config"
	"codi/internal/ctxwindow"
	"codi/internal/delta"
	"codi/internal/dispatcher"
	"codi/internal/lsp"
	"codi/internal/mcp"
	"codi/internal/mcptools"
	"codi/internal/orchestrator"
	"codi/internal/provider"
	"codi/internal/ragindex"
	"codi/internal/shell"
	"codi/internal/store"
	"codi/internal/treesitter"
	"codi/internal/tui"
)

// workerModeFlag is the argument ProcessLauncher appends to spawn this
// executable as a worker instead of the interactive TUI. Its presence is
// checked before any TUI state is built.
const workerModeFlag = "--codi-worker"

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	for _, arg := range os.Args[1:] {
		if arg == workerModeFlag {
			runWorkerMode()
			return
		}
	}

	// Parse CLI flags.
	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.Parse()

	cfg, creds, err := loadConfigAndCredentials()
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)

	providerName, providerCfg := resolveProvider(cfg, registry)

	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{
		Temperature: providerCfg.Temperature,
	})
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	svc := setupServices(cfg, creds)
	defer svc.proxy.Close()
	defer svc.lspManager.StopAll(context.Background())
	if svc.webCache != nil {
		defer svc.webCache.Close()
	}

	// Handle --list: print sessions and exit.
	if *flagList {
		listSessions(svc.webCache)
		return
	}

	tools, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools: %v\n", err)
		tools = []mcp.Tool{}
	}

	// Worker Commander: register delegate_task/cancel_worker/list_workers/
	// list_worktrees so
	// the main agent can spawn worktree-isolated workers running this same
	// executable in worker mode.
	cwdForWorkers, err := os.Getwd()
	if err != nil {
		cwdForWorkers = "."
	}
	worktreeBase := filepath.Join(filepath.Dir(cwdForWorkers), ".codi-worktrees")
	cmdr := commander.NewCommander(cwdForWorkers, worktreeBase, []string{workerModeFlag})

	delegateHandler := mcptools.NewDelegateTaskHandler(
		cmdr,
		cfg.Agent.AutoApproveAll,
		cfg.Commander.WorkerAutoApprove(cfg.Agent),
		cfg.Commander.WorkerDangerRegex(cfg.Agent),
	)
	svc.proxy.RegisterTool(mcptools.NewDelegateTaskTool(), delegateHandler.Handle)
	svc.proxy.RegisterTool(mcptools.NewCancelWorkerTool(), mcptools.NewCancelWorkerHandler(cmdr).Handle)
	svc.proxy.RegisterTool(mcptools.NewListWorkersTool(), mcptools.NewListWorkersHandler(cmdr).Handle)
	svc.proxy.RegisterTool(mcptools.NewListWorktreesTool(), mcptools.NewListWorktreesHandler(cmdr).Handle)

	// Re-fetch tools list to include the Worker Commander tools
	tools, err = svc.proxy.ListTools(context.Background())
	if err != nil {
		fmt.Printf("Warning: Failed to list tools after commander registration: %v\n", err)
		tools = []mcp.Tool{}
	}

	sessionID, resumeHistory := resolveSession(*flagSession, *flagContinue, svc.webCache)

	// Build the tree-sitter project symbol index and the rag_search lexical
	// index up front; manage_symbols/manage_rag can still force a rebuild
	// later (e.g. after the working tree changes substantially).
	tsIndex := svc.tsIndex
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed")
	}
	if err := svc.ragIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("rag index build failed")
	}

	// Wire index into Read/Edit/Write handlers for incremental updates.
	svc.readHandler.SetTSIndex(tsIndex)
	svc.editHandler.SetTSIndex(tsIndex)
	svc.editFileHandler.SetTSIndex(tsIndex)
	svc.writeHandler.SetTSIndex(tsIndex)

	// Set session on delta tracker so file deltas are linked.
	if svc.deltaTracker != nil {
		svc.deltaTracker.SetSession(sessionID)
	}

	providerOpts := provider.Options{Temperature: providerCfg.Temperature}
	p := tea.NewProgram(
		tui.New(prov, svc.proxy, tools, providerCfg.Model, svc.webCache, sessionID, tsIndex, svc.deltaTracker, svc.fileTracker, providerName, svc.scratchpad, resumeHistory, registry, providerOpts, cfg.UI.SyntaxThemeOrDefault()),
		tea.WithFilter(tui.MouseEventFilter),
	)
	svc.lspManager.SetCallback(func(absPath string, lines map[int]int) {
		p.Send(tui.LSPDiagnosticsMsg{FilePath: absPath, Lines: lines})
	})
	svc.shellHandler.OnOutput = func(chunk string) {
		p.Send(tui.ShellOutputMsg{Content: chunk})
	}

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running codi: %v\n", err)
		os.Exit(1)
	}
}

// loadConfigAndCredentials resolves config.toml (preferring the data dir's
// copy over a local one, same rule the interactive entry point and worker
// mode both follow) and loads stored credentials.
func loadConfigAndCredentials() (*config.Config, *config.Credentials, error) {
	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading credentials: %w", err)
	}
	return cfg, creds, nil
}

// runWorkerMode is the worker-side entry point: it builds the same built-in
// tool set the interactive agent uses, wires it through the dispatcher and
// a fresh Orchestrator, and serves the Worker Commander's framed protocol
// over this process's own stdin/stdout until a terminal message is sent.
func runWorkerMode() {
	cfg, creds, err := loadConfigAndCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)
	providerName, providerCfg := resolveProvider(cfg, registry)
	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{
		Temperature: providerCfg.Temperature,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating provider: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	svc := setupServices(cfg, creds)
	defer svc.proxy.Close()
	defer svc.lspManager.StopAll(context.Background())
	if svc.webCache != nil {
		defer svc.webCache.Close()
	}

	tools, err := svc.proxy.ListTools(context.Background())
	if err != nil {
		tools = []mcp.Tool{}
	}

	reg := dispatcher.NewRegistry()
	for _, t := range tools {
		reg.Register(t.Name, dispatcher.AdaptProxyTool(t, svc.proxy))
	}

	// Every mutating tool call is confirmed; the commander on the other end
	// of the pipe arbitrates per the policy the main agent delegated it
	// under, so the worker's own policy never auto-approves anything itself.
	disp := dispatcher.NewDispatcher(reg, dispatcher.NewPolicy(false, nil, nil))
	cw := ctxwindow.NewContextWindow(ctxwindow.DefaultContextConfig())
	disp.Working = cw.Working

	orch := orchestrator.NewOrchestrator(prov, disp, cw, cw.Working, cfg.Agent.ToAgentCore(), "", orchestrator.Callbacks{})

	if err := commander.ServeWorker(context.Background(), os.Stdin, os.Stdout, orch); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		os.Exit(1)
	}
}

func buildRegistry(cfg *config.Config, _ *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name, providerCfg := range cfg.Providers {
		registry.RegisterFactory(name, provider.NewOllamaFactory(name, providerCfg.Endpoint))
	}
	return registry
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		providers := registry.List()
		if len(providers) == 0 {
			fmt.Println("Error: No providers configured")
			os.Exit(1)
		}
		name = providers[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Printf("Error: Provider %q not found\n", name)
		os.Exit(1)
	}
	return name, pcfg
}

type services struct {
	proxy           *mcp.Proxy
	lspManager      *lsp.Manager
	webCache        *store.Cache
	readHandler     *mcptools.ReadHandler
	editHandler     *mcptools.EditHandler
	editFileHandler *mcptools.EditFileHandler
	writeHandler    *mcptools.WriteFileHandler
	shellHandler    *mcptools.ShellHandler
	fileTracker     *mcptools.FileReadTracker
	deltaTracker    *delta.Tracker
	scratchpad      *mcptools.Scratchpad
	shell           *shell.Shell
	tsIndex         *treesitter.Index
	ragIndex        *ragindex.Index
	exaKey          string
}

func setupServices(cfg *config.Config, creds *config.Credentials) services {
	var mcpClient mcp.UpstreamClient
	if cfg.MCP.Upstream != "" {
		mcpClient = mcp.NewClient(cfg.MCP.Upstream)
	}
	proxy := mcp.NewProxy(mcpClient)
	if err := proxy.Initialize(context.Background()); err != nil {
		fmt.Printf("Warning: MCP init failed: %v\n", err)
	}

	lspManager := lsp.NewManager()
	fileTracker := mcptools.NewFileReadTracker()

	readHandler := mcptools.NewReadHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewReadTool(), readHandler.Handle)

	proxy.RegisterTool(mcptools.NewGrepTool(), mcptools.MakeGrepHandler())
	proxy.RegisterTool(mcptools.NewGlobTool(), mcptools.NewGlobHandler())

	writeHandler := mcptools.NewWriteFileHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewWriteFileTool(), writeHandler.Handle)
	proxy.RegisterTool(mcptools.NewListDirectoryTool(), mcptools.MakeListDirectoryHandler())

	proxy.RegisterTool(mcptools.NewGitStatusTool(), mcptools.MakeGitStatusHandler())
	proxy.RegisterTool(mcptools.NewGitDiffTool(), mcptools.MakeGitDiffHandler())

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	tsIndex := treesitter.NewIndex(cwd)
	proxy.RegisterTool(mcptools.NewFindSymbolTool(), mcptools.MakeFindSymbolHandler(tsIndex))
	proxy.RegisterTool(mcptools.NewManageSymbolsTool(), mcptools.MakeManageSymbolsHandler(tsIndex))

	ragIndex := ragindex.NewIndex(cwd)
	proxy.RegisterTool(mcptools.NewRagSearchTool(), mcptools.MakeRagSearchHandler(ragIndex))
	proxy.RegisterTool(mcptools.NewManageRagTool(), mcptools.MakeManageRagHandler(ragIndex))

	webCache := openWebCache(cfg)

	// Create delta tracker for undo support, sharing the same DB.
	var dt *delta.Tracker
	if webCache != nil {
		dt = delta.New(webCache.DB())
	}

	editHandler := mcptools.NewEditHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditTool(), editHandler.Handle)

	editFileHandler := mcptools.NewEditFileHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditFileTool(), editFileHandler.Handle)

	proxy.RegisterTool(mcptools.NewWebFetchTool(), mcptools.MakeWebFetchHandler(webCache))

	exaKey := creds.GetAPIKey("exa_ai")
	proxy.RegisterTool(mcptools.NewWebSearchTool(), mcptools.MakeWebSearchHandler(webCache, exaKey, ""))

	// Shell tool — in-process POSIX interpreter with command blocking.
	sh := shell.New("", shell.DefaultBlockFuncs())
	shellHandler := mcptools.NewShellHandler(sh, dt)
	proxy.RegisterTool(mcptools.NewShellTool(), shellHandler.Handle)

	// TodoWrite tool — agent scratchpad for plan/notes recitation.
	pad := &mcptools.Scratchpad{}
	proxy.RegisterTool(mcptools.NewTodoWriteTool(), mcptools.MakeTodoWriteHandler(pad))

	return services{
		proxy:           proxy,
		lspManager:      lspManager,
		webCache:        webCache,
		readHandler:     readHandler,
		editHandler:     editHandler,
		editFileHandler: editFileHandler,
		writeHandler:    writeHandler,
		shellHandler:    shellHandler,
		fileTracker:     fileTracker,
		deltaTracker:    dt,
		scratchpad:      pad,
		shell:           sh,
		tsIndex:         tsIndex,
		ragIndex:        ragIndex,
		exaKey:          exaKey,
	}
}

func openWebCache(cfg *config.Config) *store.Cache {
	cacheDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Printf("Warning: cache dir failed: %v\n", err)
		return nil
	}
	cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
	if err != nil {
		fmt.Printf("Warning: cache open failed: %v\n", err)
		return nil
	}
	return cache
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Warn().Err(err).Msg("failed to read random bytes for session id")
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
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

	logFile := filepath.Join(logDir, "codi.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}

func listSessions(db *store.Cache) {
	if db == nil {
		fmt.Println("No cache available")
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Printf("Error listing sessions: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return
	}
	for _, s := range sessions {
		ts := s.Timestamp.Format("2006-01-02 15:04")
		preview := s.Preview
		preview = strings.ReplaceAll(preview, "\n", " ")
		if len(preview) > 50 {
			preview = preview[:50]
		}
		fmt.Printf("%s  %s  %s\n", s.ID, ts, preview)
	}
}

func storedToMessages(msgs []store.SessionMessage) []provider.Message {
	return store.ToProviderMessages(msgs)
}

func resolveSession(flagSession string, flagContinue bool, db *store.Cache) (string, []provider.Message) {
	switch {
	case flagSession != "":
		if db != nil {
			ok, err := db.SessionExists(flagSession)
			if err != nil || !ok {
				fmt.Printf("Session %q not found\n", flagSession)
				os.Exit(1)
			}
		}
		msgs := loadHistory(flagSession, db)
		return flagSession, msgs

	case flagContinue:
		if db == nil {
			fmt.Println("No cache available")
			os.Exit(1)
		}
		id, err := db.LatestSessionID()
		if err != nil {
			fmt.Printf("No sessions to continue: %v\n", err)
			os.Exit(1)
		}
		msgs := loadHistory(id, db)
		return id, msgs

	default:
		sid := newSessionID()
		if db != nil {
			if err := db.CreateSession(sid); err != nil {
				fmt.Printf("Warning: failed to create session: %v\n", err)
			}
		}
		return sid, nil
	}
}

func loadHistory(sessionID string, db *store.Cache) []provider.Message {
	if db == nil {
		return nil
	}
	stored, err := db.LoadMessages(sessionID)
	if err != nil {
		fmt.Printf("Warning: failed to load session history: %v\n", err)
		return nil
	}
	return storedToMessages(stored)
}
