package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/freeact-go/freeact/internal/agent"
	"github.com/freeact-go/freeact/internal/config"
	"github.com/freeact-go/freeact/internal/kernel"
	"github.com/freeact-go/freeact/internal/metrics"
	"github.com/freeact-go/freeact/internal/permissions"
	"github.com/freeact-go/freeact/internal/provider"
	"github.com/freeact-go/freeact/internal/session"
	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

type runFlags struct {
	configPath  string
	sessionID   string
	maxTurns    int
	yes         bool
	watch       bool
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Submit one prompt and stream the agent's events to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrompt(cmd.Context(), flags, args[0])
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "agent.yaml", "agent configuration file")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "session id to resume (default: a fresh id)")
	cmd.Flags().IntVar(&flags.maxTurns, "max-turns", 0, "tool-execution round budget (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.yes, "yes", false, "approve every tool call without prompting")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "hot-reload permissions.json on change")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	return cmd
}

func runPrompt(ctx context.Context, flags runFlags, prompt string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	stream, err := newModelStream(cfg)
	if err != nil {
		return err
	}

	freeactDir := filepath.Join(cfg.WorkingDir, ".freeact")
	perms, err := permissions.New(freeactDir)
	if err != nil {
		return err
	}
	if flags.watch {
		stopWatch, err := watchPermissions(freeactDir, perms, logger)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	sessionID := flags.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()[:8]
	}
	store := session.New(cfg.SessionsRoot, sessionID)

	var sink events.Sink
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sink = metrics.NewSink(reg)
		go serveMetrics(flags.metricsAddr, reg, logger)
	}

	a, err := agent.New(agent.Config{
		SystemPrompt:           cfg.SystemPrompt,
		Model:                  stream,
		NewKernel:              func() kernel.Executor { return kernel.Unavailable{} },
		MCPServers:             cfg.MCPServers,
		Store:                  store,
		Permissions:            perms,
		EnableSubagents:        cfg.SubagentsEnabled(),
		MaxConcurrentSubagents: cfg.MaxConcurrentSubagents,
		InlineMaxBytes:         cfg.InlineMaxBytes,
		PreviewLines:           cfg.PreviewLines,
		MaxOutputChars:         cfg.MaxOutputChars,
		ExecutionTimeout:       cfg.ExecutionTimeout(),
		ApprovalTimeout:        cfg.ApprovalTimeout(),
		WorkingDir:             cfg.WorkingDir,
		Logger:                 logger,
		Sink:                   sink,
	})
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(); err != nil {
			logger.Warn("agent teardown", "error", err)
		}
	}()

	var opts []agent.StreamOption
	if flags.maxTurns > 0 {
		opts = append(opts, agent.WithMaxTurns(flags.maxTurns))
	}
	run, err := a.Stream(ctx, model.TextPrompt(prompt), opts...)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	for ev := range run.Events() {
		printEvent(ev)
		if ev.Kind == events.KindApprovalRequest {
			ev.Approval.Resolve(decide(stdin, flags.yes, ev))
		}
	}
	fmt.Println()
	return run.Err()
}

func newModelStream(cfg *config.File) (model.Stream, error) {
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model, 0), nil
	case "openai":
		return provider.NewOpenAI(os.Getenv("OPENAI_API_KEY"), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func printEvent(ev events.Event) {
	prefix := ""
	if strings.HasPrefix(ev.AgentID, "sub-") {
		prefix = "[" + ev.AgentID + "] "
	}

	switch ev.Kind {
	case events.KindResponseChunk:
		fmt.Print(ev.Text())
	case events.KindThoughtsChunk:
		// Thinking stays off the response stream.
	case events.KindCodeExecutionOutputChunk:
		fmt.Print(ev.Text())
	case events.KindToolOutput:
		fmt.Printf("\n%s-- tool output (%s) --\n%v\n", prefix, ev.CorrID, ev.Content)
	case events.KindApprovalRequest:
		fmt.Printf("\n%s-- approval required: %s %v --\n", prefix, ev.Approval.ToolName, ev.Approval.ToolArgs)
	case events.KindResponse:
		fmt.Println()
	}
}

func decide(stdin *bufio.Reader, autoApprove bool, ev events.Event) events.Decision {
	if autoApprove {
		return events.DecisionOnce
	}

	for {
		fmt.Printf("allow %s? [y]es once / [s]ession / [a]lways / [n]o: ", ev.Approval.ToolName)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return events.DecisionReject
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return events.DecisionOnce
		case "s", "session":
			return events.DecisionSession
		case "a", "always":
			return events.DecisionAlways
		case "n", "no":
			return events.DecisionReject
		}
	}
}

// watchPermissions reloads the always-allow set whenever permissions.json
// changes on disk, so grants made by another process take effect mid-session.
func watchPermissions(freeactDir string, perms *permissions.Manager, logger *slog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(freeactDir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "permissions.json" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := perms.Load(); err != nil {
					logger.Warn("permissions reload", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("permissions watcher", "error", err)
			}
		}
	}()
	return func() { watcher.Close() }, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server", "error", err)
	}
}
