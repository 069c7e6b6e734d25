// Package main is the guidechat CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/guidechat/internal/chat"
	"github.com/hyperjump/guidechat/internal/cli"
	"github.com/hyperjump/guidechat/internal/config"
	"github.com/hyperjump/guidechat/internal/errs"
	"github.com/hyperjump/guidechat/internal/models"
	"github.com/hyperjump/guidechat/internal/server"
	"github.com/hyperjump/guidechat/internal/watcher"
	"github.com/hyperjump/guidechat/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultServerURL = "http://localhost:8080"

// loadConfig loads config from path. When path is the default and ./config.yaml exists,
// that file is used instead so "guidechat server" from a project dir picks up its config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == config.DefaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "import":
		runImport(args)
	case "reindex":
		runReindex(args)
	case "search":
		runSearch(args)
	case "chat":
		runChat(args)
	case "delete":
		runDelete(args)
	case "history":
		runHistory(args)
	case "status":
		runStatus(args)
	case "config":
		runConfig(args)
	case "version", "--version", "-v":
		fmt.Printf("guidechat version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

// reorderArgs moves flags that follow positional arguments to the front, since
// flag.Parse stops at the first non-flag ("guidechat search g1 wifi --limit 3").
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positionals with spaces so multi-word text works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// commonFlags are shared by every command that can run remote or direct.
type commonFlags struct {
	configPath *string
	serverURL  *string
	output     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", config.DefaultConfigPath, "config file path (direct mode)"),
		serverURL:  fs.String("server", defaultServerURL, `server URL (empty = direct storage access, e.g. --server "")`),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (f commonFlags) format() cli.OutputFormat {
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		fail("%v", err)
	}
	return format
}

func (f commonFlags) client() *cli.Client {
	return cli.NewClient(*f.serverURL, &http.Client{Timeout: 5 * time.Minute})
}

func (f commonFlags) remote() bool {
	return *f.serverURL != ""
}

// withComponents loads config and runs fn against directly opened storage.
func withComponents(configPath string, fn func(ctx context.Context, c *Components) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Close()
	return fn(ctx, components)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval, file imports, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		watchSvc = watcher.NewWatcher(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			components.Indexer,
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		watchSvc.Sync(ctx)
	}

	srv := server.NewServer(server.Deps{
		Chat:     components.Orchestrator,
		Indexer:  components.Indexer,
		Search:   components.Retriever,
		History:  components.History,
		Store:    components.Storage,
		Vectors:  components.Vectors,
		Gatherer: components.Registry,
	}, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: guidechat import [flags] <guide-file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	err := withComponents(*configPath, func(ctx context.Context, c *Components) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		if info.IsDir() {
			n, err := c.Indexer.ImportDirectory(ctx, path, c.Config.Watch.Extensions)
			if err != nil {
				return fmt.Errorf("importing directory failed: %w", err)
			}
			fmt.Printf("Imported %d guide file(s) from %s\n", n, path)
			return nil
		}
		res, err := c.Indexer.ImportFile(ctx, path)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		if res.Skipped {
			fmt.Printf("Guide unchanged: %s\n", res.GuideID)
			return nil
		}
		fmt.Printf("Guide imported: %s (%d embeddings)\n", res.GuideID, res.Embeddings)
		return nil
	})
	if err != nil {
		fail("%v", err)
	}
}

func runReindex(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: guidechat reindex [flags] <guide-id>")
		os.Exit(1)
	}
	guideID := fs.Arg(0)

	var n int
	var err error
	if flags.remote() {
		n, err = flags.client().Reindex(context.Background(), guideID)
	} else {
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			var rerr error
			n, rerr = c.Indexer.Reindex(ctx, guideID)
			return rerr
		})
	}
	if err != nil {
		fail("Reindex failed: %v", err)
	}
	fmt.Printf("Guide reindexed: %s (%d embeddings)\n", guideID, n)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: guidechat search [flags] <guide-id> <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Shows the passages the chat would use as context, with vector, keyword and fused scores.

Examples:
  guidechat search guide-1 와이파이 비밀번호
  guidechat search --limit 3 guide-1 "체크아웃 시간"
  guidechat search --output json guide-1 주차
`)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	flags := addCommonFlags(fs)
	limit := fs.Int("limit", 0, "number of results (0 = server default)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 2 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	guideID := fs.Arg(0)
	query := &models.SearchQuery{Query: joinArgs(fs.Args()[1:]), Limit: *limit}
	if query.Query == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := flags.format()

	var response *models.SearchResponse
	var err error
	if flags.remote() {
		response, err = flags.client().Search(context.Background(), guideID, query)
	} else {
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			if verr := query.Validate(c.Config.Retrieval.DefaultLimit, c.Config.Retrieval.MaxLimit); verr != nil {
				return verr
			}
			if _, gerr := c.Storage.GetGuide(ctx, guideID); gerr != nil {
				return errs.From(gerr)
			}
			var serr error
			response, serr = c.Retriever.Explain(ctx, guideID, query)
			return serr
		})
	}
	if err != nil {
		fail("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	flags := addCommonFlags(fs)
	sessionID := fs.String("session", "", "session ID to continue (empty = new session)")
	host := fs.Bool("host", false, "use the host preview route (answers unpublished guides)")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 2 {
		fmt.Println("Usage: guidechat chat [flags] <guide-id> <message>")
		os.Exit(1)
	}
	guideID := fs.Arg(0)
	message := joinArgs(fs.Args()[1:])
	printChunk := func(chunk string) { fmt.Print(chunk) }

	var done *chat.DonePayload
	var err error
	if flags.remote() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		done, err = flags.client().Chat(ctx, guideID, message, cli.ChatOptions{SessionID: *sessionID, Host: *host}, printChunk)
	} else {
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			audience := chat.AudiencePublic
			if *host {
				audience = chat.AudienceHost
			}
			var cerr error
			done, cerr = chatDirect(ctx, c.Orchestrator, chat.Request{
				GuideID:   guideID,
				Message:   message,
				SessionID: *sessionID,
				Audience:  audience,
			}, printChunk)
			return cerr
		})
	}
	fmt.Println()
	if err != nil {
		fail("Chat failed: %v", err)
	}
	if flags.format() == cli.OutputJSON {
		if err := cli.WriteJSON(os.Stdout, done); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}
	fmt.Printf("\nsession: %s\n", done.SessionID)
	if len(done.ReferencedBlockIDs) > 0 {
		fmt.Printf("sources: %s\n", strings.Join(done.ReferencedBlockIDs, ", "))
	}
}

// chatDirect runs a chat request in process and relays chunks to onChunk.
func chatDirect(ctx context.Context, starter server.ChatStarter, req chat.Request, onChunk func(string)) (*chat.DonePayload, error) {
	stream, err := starter.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	for ev := range stream.Events() {
		switch ev.Type {
		case chat.EventMessage:
			onChunk(ev.Chunk)
		case chat.EventDone:
			return ev.Done, nil
		case chat.EventError:
			return nil, errs.New(ev.Err.Code, http.StatusOK, ev.Err.Message)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("chat stream ended without a result")
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	flags := addCommonFlags(fs)
	sessionID := fs.String("session", "", "delete this conversation instead of the guide's embeddings")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: guidechat delete [flags] <guide-id>")
		os.Exit(1)
	}
	guideID := fs.Arg(0)

	var n int64
	var err error
	switch {
	case flags.remote() && *sessionID != "":
		n, err = flags.client().DeleteSession(context.Background(), guideID, *sessionID)
	case flags.remote():
		n, err = flags.client().DeleteEmbeddings(context.Background(), guideID)
	default:
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			var derr error
			if *sessionID != "" {
				n, derr = c.History.DeleteSession(ctx, guideID, *sessionID)
				if derr == nil && n == 0 {
					derr = fmt.Errorf("conversation %s not found", *sessionID)
				}
				return derr
			}
			n, derr = c.Indexer.DeleteAll(ctx, guideID)
			return derr
		})
	}
	if err != nil {
		fail("Deletion failed: %v", err)
	}
	if *sessionID != "" {
		fmt.Printf("Conversation deleted: %s (%d turns)\n", *sessionID, n)
		return
	}
	fmt.Printf("Embeddings deleted: %s (%d rows)\n", guideID, n)
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	flags := addCommonFlags(fs)
	sessionID := fs.String("session", "", "show one whole conversation")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "turns per page")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: guidechat history [flags] <guide-id>")
		os.Exit(1)
	}
	guideID := fs.Arg(0)
	format := flags.format()

	if *sessionID != "" {
		var session *models.SessionResponse
		var err error
		if flags.remote() {
			session, err = flags.client().Session(context.Background(), guideID, *sessionID)
		} else {
			err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
				turns, serr := c.History.Session(ctx, guideID, *sessionID)
				session = &models.SessionResponse{SessionID: *sessionID, Messages: turns}
				return serr
			})
		}
		if err != nil {
			fail("History failed: %v", err)
		}
		if err := cli.WriteSession(os.Stdout, session, format); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}

	var result *models.TurnPage
	var err error
	if flags.remote() {
		result, err = flags.client().Conversations(context.Background(), guideID, "", *page, *limit)
	} else {
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			var lerr error
			result, lerr = c.History.List(ctx, guideID, "", *page, *limit)
			return lerr
		})
	}
	if err != nil {
		fail("History failed: %v", err)
	}
	if err := cli.WriteTurnPage(os.Stdout, result, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addCommonFlags(fs)
	_ = fs.Parse(args)
	format := flags.format()

	var status *models.Status
	var err error
	if flags.remote() {
		status, err = flags.client().Status(context.Background())
	} else {
		err = withComponents(*flags.configPath, func(ctx context.Context, c *Components) error {
			var serr error
			status, serr = server.CollectStatus(ctx, c.Storage, c.Vectors, c.Config)
			return serr
		})
	}
	if err != nil {
		fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runConfig(args []string) {
	if len(args) < 1 || args[0] != "init" {
		fmt.Println("Usage: guidechat config init [--force] [path]")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(reorderArgs(args[1:]))
	path := config.DefaultConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := initConfig(path, *force); err != nil {
		fail("Config init failed: %v", err)
	}
	fmt.Printf("Config written: %s\n", path)
}

// initConfig writes the default configuration to path, refusing to replace an existing
// file unless force is set.
func initConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return config.Save(path, config.Default())
}

func printUsage() {
	fmt.Println(`guidechat - Retrieval-augmented chat for rental guidebooks

Usage:
  guidechat server [flags]                        Start the HTTP server (and file watcher)
  guidechat import [flags] <file-or-dir>          Import guide files and index them
  guidechat reindex [flags] <guide-id>            Rebuild a guide's embeddings
  guidechat search [flags] <guide-id> <query>     Show the passages retrieval picks
  guidechat chat [flags] <guide-id> <message>     Ask a guide a question (streams the answer)
  guidechat delete [flags] <guide-id>             Delete a guide's embeddings (or --session)
  guidechat history [flags] <guide-id>            List conversation turns (or --session)
  guidechat status [flags]                        Show counts, disk usage and configuration
  guidechat config init [--force] [path]          Write a default config file
  guidechat version                               Show version
  guidechat help                                  Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/guidechat/config.yaml)
  --debug            Enable debug logging

Shared Flags (reindex, search, chat, delete, history, status):
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage access.
  --output string    Output format: text or json (default: text)

Direct mode opens the database itself. With the memory vector store, stop the server first
so the snapshot is not written by two processes.

Examples:
  guidechat config init ./config.yaml
  guidechat import ./guides
  guidechat chat guide-1 체크인 시간이 언제예요?
  guidechat chat --host --session s1 guide-1 "와이파이 비밀번호 알려주세요"
  guidechat search --limit 3 guide-1 주차
  guidechat history --session s1 guide-1
  guidechat delete --session s1 guide-1
  guidechat status --output json`)
}
