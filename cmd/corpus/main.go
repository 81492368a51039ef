package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/corpus"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/metrics"
)

// 退出码
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitUnknown = 3
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.Sync()
	os.Exit(code)
}

// app 一次命令执行的公共参数
type app struct {
	stdout io.Writer
	stderr io.Writer
	out    *corpus.ConsoleOutput

	corpusDir   string
	logLevel    string
	metricsAddr string
	stateless   bool
	verbose     bool

	collector *metrics.Collector
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error
}

var commands = map[string]command{
	"create":         {"create -corpus DIR -name NAME [-llm P] [-embeddings P] [-vector-db P]", runCreate},
	"add-docset":     {"add-docset -name NAME -path P[,P] [-type Text[:ext]] [-recursive]", runAddDocSet},
	"add-configured": {"add-configured", runAddConfigured},
	"remove-docset":  {"remove-docset -name NAME", runRemoveDocSet},
	"add-doc":        {"add-doc -path FILE -docset NAME", runAddDoc},
	"ask":            {"ask [-sources] [-continue] QUESTION", runAsk},
	"search":         {"search [-k N] TEXT", runSearch},
	"list":           {"list [-all] [-docset NAME]", runList},
	"annotate":       {"annotate -title T (-text TEXT | -last)", runAnnotate},
	"conversations":  {"conversations [-id N]", runConversations},
	"scripts":        {"scripts", runScripts},
	"run-script":     {"run-script NAME [ARGS...]", runScript},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		usage(stderr)
		return exitUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitUnknown
	}

	a := &app{stdout: stdout, stderr: stderr, out: corpus.NewConsoleOutput(stdout), collector: metrics.NewCollector()}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.corpusDir, "corpus", envOr("CORPUS_DIR", "."), "corpus directory")
	fs.StringVar(&a.logLevel, "log-level", "", "log level, defaults to log.level in corpus.ini")
	fs.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	fs.BoolVar(&a.stateless, "stateless", false, "answer without conversation history")
	fs.BoolVar(&a.verbose, "v", false, "print full error context")
	fs.Usage = func() { fmt.Fprintf(stderr, "usage: corpus %s\n", cmd.usage); fs.PrintDefaults() }

	if err := cmd.run(ctx, a, fs, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			return exitUsage
		}
		a.report(err)
		return exitFailed
	}
	return exitOK
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: corpus COMMAND [flags]")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

// report 普通模式只输出错误信息，-v输出错误码和详情
func (a *app) report(err error) {
	if !a.verbose {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return
	}
	fmt.Fprintf(a.stderr, "error: %v\n", err)
	if appErr := apperrors.GetAppError(err); appErr != nil {
		fmt.Fprintf(a.stderr, "  code: %s\n  type: %s\n  recoverable: %t\n", appErr.Code, appErr.Type, appErr.Recoverable())
		if appErr.Details != nil {
			fmt.Fprintf(a.stderr, "  details: %+v\n", appErr.Details)
		}
	}
}

func (a *app) initLogger(level string) {
	if a.logLevel != "" {
		level = a.logLevel
	}
	if err := logger.InitLogger(level, "production"); err != nil {
		log.Printf("failed to init logger: %v", err)
	}
}

// serveMetrics 命令执行期间暴露指标，返回关闭函数
func (a *app) serveMetrics() func() {
	if a.metricsAddr == "" {
		return func() {}
	}
	a.collector.RegisterRuntime()
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collector.Handler())
	srv := &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) options() corpus.Options {
	return corpus.Options{Output: a.out, Metrics: a.collector, Stateless: a.stateless}
}

// withCorpus 打开语料库执行fn后关闭
func (a *app) withCorpus(ctx context.Context, fn func(c *corpus.Corpus) error) error {
	cfg, err := config.Load(a.corpusDir)
	if err != nil {
		return err
	}
	a.initLogger(cfg.Log.Level)
	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	c, err := corpus.Open(ctx, a.corpusDir, a.options())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
