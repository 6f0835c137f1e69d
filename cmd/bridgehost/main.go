package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/interop-bridge/bridge"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/invoke"
	"github.com/wippyai/interop-bridge/lifecycle"
	"github.com/wippyai/interop-bridge/managed"
)

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		assemblies listFlag
		roots      listFlag
		args       listFlag
	)
	var (
		configFile  = flag.String("config", "", "Path to the YAML configuration")
		call        = flag.String("call", "", "Static method to call (Namespace.Type::Method)")
		frames      = flag.Uint64("frames", 0, "Number of update frames to run")
		list        = flag.Bool("list", false, "List loaded assemblies and types and exit")
		production  = flag.Bool("production", false, "Log unhandled managed exceptions instead of exiting")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Var(&assemblies, "assembly", "Assembly path or name to load (repeatable)")
	flag.Var(&roots, "root", "Assembly search root (repeatable)")
	flag.Var(&args, "arg", "Argument for -call (repeatable)")
	flag.Parse()

	cfg := bridge.Config{}
	if *configFile != "" {
		var err error
		if cfg, err = bridge.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.Assemblies = append(cfg.Assemblies, assemblies...)
	cfg.SearchRoots = append(cfg.SearchRoots, roots...)
	cfg.Production = cfg.Production || *production

	if len(cfg.Assemblies) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: bridgehost [-config bridge.yaml] -assembly <path|name> [-root dir] [-list]")
		fmt.Fprintln(os.Stderr, "       bridgehost -assembly <path|name> -call Type::Method [-arg v]...")
		fmt.Fprintln(os.Stderr, "       bridgehost -assembly <path|name> -i  (interactive mode)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := start(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	code := 0
	if err := run(ctx, b, *call, args, *frames, *list, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	if err := b.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
		code = 1
	}
	os.Exit(code)
}

func start(ctx context.Context, cfg bridge.Config) (*bridge.Bridge, error) {
	log, err := cfg.BuildLogger()
	if err != nil {
		return nil, err
	}
	bridge.SetLogger(log)
	b, err := bridge.New(cfg, bridge.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(ctx, bridge.NewVMHost(cfg), &phaseLogger{log: log.Named("phases")}); err != nil {
		return nil, err
	}
	return b, nil
}

func run(ctx context.Context, b *bridge.Bridge, call string, args []string, frames uint64, listOnly, interactive bool) error {
	if listOnly {
		printInventory(b)
		return nil
	}

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(b)
	}

	if call != "" {
		result, err := callStatic(ctx, b, call, args)
		if err != nil {
			return err
		}
		fmt.Printf("Result: %s\n", result)
	}

	for frame := uint64(0); frame < frames; frame++ {
		if ctx.Err() != nil {
			break
		}
		if err := b.Update(ctx, frame); err != nil {
			b.Logger().Warn("update", zap.Uint64("frame", frame), zap.Error(err))
		}
		if err := b.PostUpdate(ctx, frame); err != nil {
			b.Logger().Warn("post-update", zap.Uint64("frame", frame), zap.Error(err))
		}
	}
	return nil
}

func printInventory(b *bridge.Bridge) {
	fmt.Println("Assemblies:")
	for _, d := range b.Assemblies().All() {
		path := d.Path
		if path == "" {
			path = "<memory>"
		}
		fmt.Printf("  %s  %s\n", d.FullName, path)
	}

	fmt.Println("\nTypes:")
	for _, name := range typeNames(b) {
		class := b.FindClass(name)
		if class == nil {
			continue
		}
		fmt.Printf("  %s\n", class.FullName())
		for _, m := range class.Methods() {
			fmt.Printf("    %s\n", m.Signature())
		}
	}
}

// callStatic invokes a static method with arguments parsed from strings.
// A managed exception goes to the bridge's unhandled exception handler.
func callStatic(ctx context.Context, b *bridge.Bridge, target string, args []string) (string, error) {
	typeName, member, err := splitMember(target)
	if err != nil {
		return "", err
	}
	class := b.FindClass(typeName)
	if class == nil {
		return "", fmt.Errorf("type %s not found", typeName)
	}
	m, err := overload(class, member, len(args))
	if err != nil {
		return "", err
	}

	params := m.ParamTypes()
	refs := make([]managed.Ref, len(args))
	for i, s := range args {
		if refs[i], err = parseArg(b, params[i], s); err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
	}

	result, err := invoke.Invoke(m, managed.Null, refs...)
	if err != nil {
		if exc, ok := invoke.AsException(b.Classes(), err); ok {
			b.HandleUnhandledException(ctx, exc)
			return "", fmt.Errorf("%s threw %s", m, exc.TypeName())
		}
		return "", err
	}
	if m.ReturnType() == nil {
		return "void", nil
	}
	return formatValue(b, result), nil
}

// phaseLogger logs every lifecycle phase at debug level.
type phaseLogger struct {
	lifecycle.NopListener
	log *zap.Logger
}

func (p *phaseLogger) OnRuntimeInitialized(context.Context) error {
	p.log.Debug("runtime initialized")
	return nil
}

func (p *phaseLogger) OnCompilationComplete(_ context.Context, success bool) error {
	p.log.Debug("compilation complete", zap.Bool("success", success))
	return nil
}

func (p *phaseLogger) OnPostInit(context.Context) error {
	p.log.Debug("post-init")
	return nil
}

func (p *phaseLogger) OnShutdown(context.Context) error {
	p.log.Debug("shutdown")
	return nil
}
