// Command heapscope-agent hosts the heap observatory inside its own
// process: it installs the detour engine against its own ntdll (or the
// in-memory fake under -dev), then serves the query/control protocol
// over TCP and a named pipe until signaled to stop. Translated from
// original_source/backend/src/dllmain.rs's DllMain: that file hooks into
// DLL_PROCESS_ATTACH/DLL_PROCESS_DETACH of a library injected into a
// target process, but Go has no supported in-process DLL-injection
// story, so this binary instead hosts its own process's heap and plays
// the DllMain lifecycle out as ordinary main()/shutdown sequencing
// (initialize()/deinitialize() become startup/defer below).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/ntqbit/allocation-catcher/handler"
	"github.com/ntqbit/allocation-catcher/internal/xlog"
	"github.com/ntqbit/allocation-catcher/server"
	"github.com/ntqbit/allocation-catcher/state"
	"github.com/ntqbit/allocation-catcher/trampoline"
)

var (
	configFlag = cli.StringFlag{Name: "config", Usage: "path to a TOML bootstrap config (optional)"}
	devFlag    = cli.BoolFlag{Name: "dev", Usage: "use the in-memory fake provider instead of patching ntdll"}
)

func main() {
	app := cli.NewApp()
	app.Name = "heapscope-agent"
	app.Usage = "host a heap observatory against this process"
	app.Flags = []cli.Flag{configFlag, devFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "heapscope-agent:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	xlog.SetLevel(parseLevel(cfg.LogLevel))

	s := state.New()

	// initialize_detour in dllmain.rs: bind the handler, then
	// Initialize/Enable the engine before anything can observe it.
	h := handler.New(s)

	provider, err := newProvider(c.Bool(devFlag.Name) || cfg.Dev.FakeProvider)
	if err != nil {
		return fmt.Errorf("construct provider: %w", err)
	}

	engine := trampoline.NewEngine(provider, s.Flags)
	bindEngine(provider, engine)
	engine.SetHandler(h)

	if err := engine.Initialize(); err != nil {
		return fmt.Errorf("initialize detour: %w", err)
	}
	xlog.Info("detour initialized")

	if err := engine.Enable(); err != nil {
		return fmt.Errorf("enable detour: %w", err)
	}
	xlog.Info("detour enabled")

	// deinitialize in dllmain.rs runs on DLL_PROCESS_DETACH; here it runs
	// on graceful shutdown, after the listeners have stopped accepting.
	defer func() {
		if err := engine.Disable(); err != nil {
			xlog.Error("disable detour failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(s, s.Flags)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.TCP.Enabled {
		g.Go(func() error { return srv.ServeTCP(gctx, cfg.TCP.Addr) })
	}
	if cfg.NamedPipe.Enabled {
		g.Go(func() error { return srv.ServeNamedPipe(gctx, cfg.NamedPipe.Name) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func parseLevel(s string) xlog.Level {
	switch s {
	case "crit":
		return xlog.LevelCrit
	case "error":
		return xlog.LevelError
	case "warn":
		return xlog.LevelWarn
	case "debug":
		return xlog.LevelDebug
	case "trace":
		return xlog.LevelTrace
	default:
		return xlog.LevelInfo
	}
}
