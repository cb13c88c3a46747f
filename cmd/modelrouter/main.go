package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/chats/role"
	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/engine"
	"github.com/germanamz/modelrouter/pkg/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// commonFlags are shared by the turn command and the subcommands.
type commonFlags struct {
	configPath *string
	envFile    *string
	traceDB    *string
	verbose    *bool
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "path to configuration file (YAML)"),
		envFile:    fs.String("env", ".env", "path to .env file (ignored if missing)"),
		traceDB:    fs.String("trace-db", "", "SQLite file recording routing traces (overrides ROUTER_TRACE_DB)"),
		verbose:    fs.Bool("verbose", false, "log routing decisions, retries and engine events"),
	}
}

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "models":
			fs := flag.NewFlagSet("models", flag.ExitOnError)
			fs.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: modelrouter models [flags]\n\nList the model catalog with inferred capabilities.\n\nFlags:\n")
				fs.PrintDefaults()
			}
			common := registerCommon(fs)
			refresh := fs.Bool("refresh", false, "bypass the catalog cache")
			_ = fs.Parse(os.Args[2:])

			exitOnError(withEngine(common, engine.Options{}, func(ctx context.Context, eng *engine.Engine) error {
				return runModels(ctx, eng, *refresh, os.Stdout)
			}))

			return
		case "traces":
			fs := flag.NewFlagSet("traces", flag.ExitOnError)
			fs.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: modelrouter traces [flags]\n\nList recent routing traces from the trace database.\n\nFlags:\n")
				fs.PrintDefaults()
			}
			common := registerCommon(fs)
			limit := fs.Int("n", 20, "number of traces to show")
			_ = fs.Parse(os.Args[2:])

			exitOnError(withEngine(common, engine.Options{}, func(ctx context.Context, eng *engine.Engine) error {
				return runTraces(ctx, eng, *limit, os.Stdout)
			}))

			return
		}
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modelrouter [flags] <prompt>\n       modelrouter <command> [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  models  List the model catalog\n  traces  List recent routing traces\n")
	}

	common := registerCommon(flag.CommandLine)
	model := flag.String("model", router.AutoModelID, `model id, "auto" or "default"`)
	system := flag.String("system", "", "system prompt")
	firstToken := flag.Duration("first-token-timeout", 15*time.Second, "abort when the first token takes longer (0 disables)")
	render := flag.Bool("render", false, "render the reply as markdown once complete")
	showMetrics := flag.Bool("metrics", false, "print routing and dispatch counters after the turn")
	var attachPaths stringList
	flag.Var(&attachPaths, "attach", "file to attach (repeatable)")
	flag.Parse()

	prompt, err := readPrompt(flag.Args(), os.Stdin)
	exitOnError(err)

	atts, err := loadAttachments(attachPaths)
	exitOnError(err)

	reg := prometheus.NewRegistry()
	opts := engine.Options{Registerer: reg, FirstTokenTimeout: *firstToken}

	exitOnError(withEngine(common, opts, func(ctx context.Context, eng *engine.Engine) error {
		turn := router.Turn{
			Model:       *model,
			Messages:    buildMessages(*system, prompt),
			Attachments: atts,
		}

		stopEvents := func() {}
		if *common.verbose {
			stopEvents = watchEvents(eng.Events(), os.Stderr)
		}

		err := runTurn(ctx, eng, turn, *render, os.Stdout, os.Stderr)
		stopEvents()

		if *showMetrics {
			if mErr := printMetrics(reg, os.Stderr); mErr != nil && err == nil {
				err = mErr
			}
		}

		return err
	}))
}

func exitOnError(err error) {
	if err == nil {
		return
	}

	var exhausted *dispatch.ExhaustedError
	if errors.As(err, &exhausted) && len(exhausted.Attempts) > 0 {
		fmt.Fprintln(os.Stderr, attemptsSummary(exhausted.Attempts))
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// withEngine loads configuration, builds an Engine and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withEngine(common commonFlags, opts engine.Options, fn func(ctx context.Context, eng *engine.Engine) error) error {
	if err := loadDotEnv(*common.envFile); err != nil {
		return err
	}

	cfg, err := engine.LoadConfig(*common.configPath)
	if err != nil {
		return err
	}
	if err := engine.ApplyEnv(&cfg); err != nil {
		return err
	}
	if *common.traceDB != "" {
		cfg.Trace.DBPath = *common.traceDB
	}

	opts.Logger = newLogger(os.Stderr, *common.verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	return fn(ctx, eng)
}

// newLogger returns a slog logger backed by a charm log handler.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "modelrouter",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	return slog.New(handler)
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// readPrompt joins the positional arguments, or reads stdin when there are
// none and stdin is not a terminal.
func readPrompt(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if stdin != nil {
		if info, err := stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("read prompt: %w", err)
			}
			if p := strings.TrimSpace(string(data)); p != "" {
				return p, nil
			}
		}
	}

	return "", errors.New("a prompt is required (pass it as arguments or on stdin)")
}

func buildMessages(system, prompt string) []message.Message {
	var msgs []message.Message
	if system != "" {
		msgs = append(msgs, message.NewText(role.System, system))
	}
	return append(msgs, message.NewText(role.User, prompt))
}

// runTurn routes the turn and writes the reply to out. The routing header
// and any failed attempts go to status.
func runTurn(ctx context.Context, eng *engine.Engine, turn router.Turn, render bool, out, status io.Writer) error {
	reply, err := eng.Turn(ctx, turn)
	if err != nil {
		return err
	}
	defer func() { _ = reply.Close() }()

	fmt.Fprintln(status, routeHeader(reply))
	if len(reply.Attempts) > 0 {
		fmt.Fprintln(status, attemptsSummary(reply.Attempts))
	}

	var sb strings.Builder
	for reply.Next() {
		chunk := reply.Current().Content
		if render {
			sb.WriteString(chunk)
			continue
		}
		if _, err := io.WriteString(out, chunk); err != nil {
			return err
		}
	}
	if err := reply.Err(); err != nil {
		return fmt.Errorf("stream %s: %w", reply.Model, err)
	}

	if render {
		_, err = io.WriteString(out, renderMarkdown(sb.String()))
		return err
	}

	_, err = io.WriteString(out, "\n")
	return err
}

func loadAttachments(paths []string) ([]attachment.Attachment, error) {
	out := make([]attachment.Attachment, 0, len(paths))
	for _, p := range paths {
		a, err := loadAttachment(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
