package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mcpchat/internal/infra/manager"
)

// RunChat runs the interactive loop: read a query, answer it, repeat.
// "exit" or "quit" (or EOF) ends the session.
func (a *App) RunChat(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	cfg, err := a.LoadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	runtime, err := a.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer runtime.Close(context.WithoutCancel(ctx))

	fmt.Fprintln(out, "Connected. Type a request, or 'exit' to leave.")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}
		fmt.Fprintln(out, runtime.Agent.ProcessRequest(ctx, query))
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("input stream failed", zap.Error(err))
	}
	fmt.Fprintln(out, "Bye.")
	return nil
}

// Ask answers a single query and exits.
func (a *App) Ask(ctx context.Context, configPath, query string, out io.Writer) error {
	cfg, err := a.LoadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	runtime, err := a.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer runtime.Close(context.WithoutCancel(ctx))

	fmt.Fprintln(out, runtime.Agent.ProcessRequest(ctx, query))
	return nil
}

// Tools prints the aggregated tool catalog. It does not need the language
// model, so a missing API key does not block it.
func (a *App) Tools(ctx context.Context, configPath string, out io.Writer) error {
	runtime, err := a.buildManagerOnly(ctx, configPath)
	if err != nil {
		return err
	}
	defer runtime.close(context.WithoutCancel(ctx))

	tools := runtime.manager.AvailableTools(ctx)
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}
	for _, tool := range tools {
		fmt.Fprintf(out, "%-30s %s\n", tool.QualifiedName(), tool.Description)
	}
	return nil
}

// Status prints per-provider state.
func (a *App) Status(ctx context.Context, configPath string, out io.Writer) error {
	runtime, err := a.buildManagerOnly(ctx, configPath)
	if err != nil {
		return err
	}
	defer runtime.close(context.WithoutCancel(ctx))

	statuses := runtime.manager.ProviderStatus()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := statuses[name]
		line := fmt.Sprintf("%-20s activation=%s running=%t connected=%t", name, status.Activation, status.Running, status.Connected)
		if status.PID != 0 {
			line += fmt.Sprintf(" pid=%d", status.PID)
		}
		if status.LastError != "" {
			line += fmt.Sprintf(" lastError=%q", status.LastError)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// Validate checks the configuration file without starting anything.
func (a *App) Validate(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := a.LoadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Config OK: %d providers, model %s/%s\n", len(cfg.Providers), cfg.LLM.Provider, cfg.LLM.Model)
	return nil
}

// managerRuntime is the manager-only slice of a Runtime used by the
// inspection commands, which do not need the language model.
type managerRuntime struct {
	manager manager.Manager
	logger  *zap.Logger
}

func (r *managerRuntime) close(ctx context.Context) {
	shutdownQuietly(ctx, r.manager, r.logger)
}

func (a *App) buildManagerOnly(ctx context.Context, configPath string) (*managerRuntime, error) {
	cfg, err := a.LoadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}
	mgr, _, _, err := a.assemble(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &managerRuntime{manager: mgr, logger: a.logger}, nil
}
