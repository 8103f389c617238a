package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicebridge/cmd/voicebridge/internal/build"
	"github.com/haivivi/voicebridge/pkg/audio/transcode"
	"github.com/haivivi/voicebridge/pkg/bridge"
	"github.com/haivivi/voicebridge/pkg/config"
	"github.com/haivivi/voicebridge/pkg/kv"
	"github.com/haivivi/voicebridge/pkg/realtime"
	"github.com/haivivi/voicebridge/pkg/server"
	"github.com/haivivi/voicebridge/pkg/sink"
	"github.com/haivivi/voicebridge/pkg/storage"
	"github.com/haivivi/voicebridge/pkg/summary"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
	"github.com/haivivi/voicebridge/pkg/toolrpc/jqtool"
)

var configFile string

// sinkDrainTimeout bounds flushing queued records on shutdown.
const sinkDrainTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge server",
	Long: `Run the bridge server.

The server accepts call legs on /media, serves tools on /tools and exposes
health, status and session administration over HTTP.

Example:
  OPENAI_API_KEY=sk-... voicebridge serve -c voicebridge.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(cfg, filepath.Dir(configFile), logger)
	if err != nil {
		return err
	}
	defer st.close(logger)

	go st.bridge.Run(ctx)

	logger.Info("voicebridge starting",
		"version", build.Version,
		"listen", cfg.Listen,
		"model", cfg.Engine.Model,
		"tools", st.tools.Len(),
		"persistence", cfg.Persistence.Driver,
		"archive", cfg.Persistence.Archive.Driver)

	err = st.server.ListenAndServe(ctx, cfg.Listen)
	logger.Info("shutting down", "active_sessions", st.bridge.Count())
	return err
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// stack is everything serve runs.
type stack struct {
	store   kv.Store
	sink    *sink.Async
	archive *sink.Archiver // nil without an archive store
	tools   *toolrpc.Registry
	bridge *bridge.Service
	server *server.Server
}

// buildStack wires the configured components. baseDir resolves relative
// paths in tool definitions.
func buildStack(cfg *config.Config, baseDir string, logger *slog.Logger) (_ *stack, err error) {
	st := &stack{}
	defer func() {
		if err != nil {
			st.close(logger)
		}
	}()

	if st.store, err = openStore(cfg.Persistence, logger); err != nil {
		return nil, err
	}
	kvSink := sink.NewKV(st.store)
	var next sink.Sink = kvSink
	archive, err := openArchive(cfg.Persistence.Archive)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		a := &sink.Archiver{
			Sink:    kvSink,
			Reader:  kvSink,
			Store:   archive,
			Timeout: cfg.Persistence.Archive.Timeout.D(),
			Logger:  logger.With("component", "archive"),
		}
		if cfg.Summary.Enabled {
			a.Summarizer = summary.New(summary.Config{
				APIKey:  cfg.Summary.APIKey,
				BaseURL: cfg.Summary.BaseURL,
				Model:   cfg.Summary.Model,
			})
		}
		next, st.archive = a, a
	}
	st.sink = sink.NewAsync(next, sink.AsyncConfig{
		QueueSize:      cfg.Persistence.QueueSize,
		ResolveTimeout: cfg.Persistence.ResolveTimeout.D(),
		Logger:         logger.With("component", "sink"),
	})

	if st.tools, err = loadTools(cfg.Tools, baseDir, logger); err != nil {
		return nil, err
	}

	client := realtime.NewClient(cfg.Engine.APIKey,
		realtime.WithWebSocketURL(cfg.Engine.URL),
		realtime.WithHandshakeTimeout(cfg.Engine.HandshakeTimeout.D()),
		realtime.WithSendQueue(cfg.Engine.SendQueue),
		realtime.WithLogger(logger.With("component", "realtime")),
	)
	leg, engineIn, engineOut := cfg.Formats()
	st.bridge, err = bridge.New(bridge.Config{
		Connector:        client,
		Model:            cfg.Engine.Model,
		Session:          cfg.EngineSession(),
		Tools:            st.tools,
		Sink:             st.sink,
		CallLeg:          leg,
		EngineInput:      engineIn,
		EngineOutput:     engineOut,
		Transcode:        transcode.Mode(cfg.Engine.Transcode),
		MaxAge:           cfg.Session.MaxAge.D(),
		SweepInterval:    cfg.Session.SweepInterval.D(),
		HandshakeTimeout: cfg.Engine.HandshakeTimeout.D(),
		DrainTimeout:     cfg.Session.DrainTimeout.D(),
		ResolveTimeout:   cfg.Persistence.ResolveTimeout.D(),
		PendingLimit:     cfg.Session.PendingLimit,
		TeardownOnError:  cfg.Engine.TeardownOnError,
		Logger:           logger.With("component", "bridge"),
	})
	if err != nil {
		return nil, err
	}

	st.server = server.New(server.Config{
		Bridge: st.bridge,
		Tools: toolrpc.NewServer(st.tools, toolrpc.ServerConfig{
			MaxInFlight: cfg.Tools.MaxInFlight,
			Logger:      logger.With("component", "toolrpc"),
		}),
		Version: build.Version,
		Logger:  logger.With("component", "server"),
	})
	return st, nil
}

// close tears down in reverse order: sessions first so their call_end
// records reach the sink, then the sink drain and pending archives, then
// the store.
func (st *stack) close(logger *slog.Logger) {
	if st.bridge != nil {
		st.bridge.Close()
	}
	if st.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkDrainTimeout)
		if err := st.sink.Close(ctx); err != nil {
			logger.Warn("sink drain incomplete", "pending", st.sink.Pending(), "error", err)
		}
		cancel()
	}
	if st.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), st.archiveTimeout())
		if err := st.archive.Wait(ctx); err != nil {
			logger.Warn("archives incomplete", "error", err)
		}
		cancel()
	}
	if st.store != nil {
		if err := st.store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}
}

func (st *stack) archiveTimeout() time.Duration {
	if st.archive.Timeout > 0 {
		return st.archive.Timeout
	}
	return sink.DefaultArchiveTimeout
}

func openStore(cfg config.PersistenceConfig, logger *slog.Logger) (kv.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return kv.NewMemory(nil), nil
	case "badger":
		b, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.Dir, Logger: logger.With("component", "kv")})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
}

func openArchive(cfg config.ArchiveConfig) (storage.FileStore, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "local":
		l, err := storage.NewLocal(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "s3":
		client := storage.NewS3Client(storage.S3Config{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			UsePathStyle:    cfg.UsePathStyle,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		return storage.NewS3(client, cfg.Bucket, cfg.Prefix), nil
	}
	return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
}

// loadTools builds the registry from tool files and inline definitions.
func loadTools(cfg config.ToolsConfig, baseDir string, logger *slog.Logger) (*toolrpc.Registry, error) {
	var tools []*toolrpc.Tool
	for _, f := range cfg.Files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(baseDir, f)
		}
		ts, err := jqtool.LoadFile(f)
		if err != nil {
			return nil, err
		}
		tools = append(tools, ts...)
	}
	inline, err := jqtool.Build(cfg.Definitions, baseDir)
	if err != nil {
		return nil, err
	}
	tools = append(tools, inline...)

	reg, err := toolrpc.NewRegistry(toolrpc.RegistryConfig{
		Timeout: cfg.Timeout.D(),
		Logger:  logger.With("component", "tools"),
	}, tools...)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
