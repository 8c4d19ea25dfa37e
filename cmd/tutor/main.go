// Command tutor runs the language tutoring pipeline either as a local voice
// client (microphone and speaker on this machine) or as a websocket bridge
// for a browser UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/mbernuy21/ai-english-tutor/pkg/bridge"
	"github.com/mbernuy21/ai-english-tutor/pkg/conversation"
	"github.com/mbernuy21/ai-english-tutor/pkg/mode"
	"github.com/mbernuy21/ai-english-tutor/pkg/playback"
	"github.com/mbernuy21/ai-english-tutor/pkg/session"
	"github.com/mbernuy21/ai-english-tutor/pkg/speech"
)

func main() {
	var (
		modeFlag  = flag.String("mode", "tutor", "practice mode: tutor, translator, pronunciation")
		level     = flag.String("level", "", "learner level, e.g. beginner")
		topic     = flag.String("topic", "", "conversation topic")
		listen    = flag.String("listen", "", "serve the browser bridge on this address instead of using local audio")
		prompts   = flag.String("prompts", "", "path to a prompt config overriding the embedded one")
		model     = flag.String("model", "", "live model override")
		voice     = flag.String("voice", "", "voice override")
		debug     = flag.Bool("debug", false, "enable debug logging and debug events")
		exportDir = flag.String("export-dir", "", "write session notes JSON to this directory on exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	registry, err := loadRegistry(*prompts)
	if err != nil {
		logger.Error("load prompt config", "error", err)
		os.Exit(1)
	}

	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	creds := envCredentials{key: apiKey}

	newTransport := func(ctx context.Context) (session.Transport, error) {
		return session.NewGeminiTransport(ctx, apiKey)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		err = runBridge(ctx, bridgeOptions{
			addr:         *listen,
			apiKey:       apiKey,
			registry:     registry,
			newTransport: newTransport,
			creds:        creds,
			model:        *model,
			voice:        *voice,
			debug:        *debug,
			logger:       logger,
		})
	} else {
		err = runLocal(ctx, localOptions{
			mode:         mode.ID(*modeFlag),
			params:       mode.Params{Level: *level, Topic: *topic},
			registry:     registry,
			newTransport: newTransport,
			creds:        creds,
			model:        *model,
			voice:        *voice,
			debug:        *debug,
			exportDir:    *exportDir,
			logger:       logger,
		})
	}
	if err != nil {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

func loadRegistry(path string) (*mode.Registry, error) {
	if path != "" {
		return mode.LoadFile(path)
	}
	return mode.Load()
}

// envCredentials satisfies session.Credentials from the environment. There
// is no interactive key prompt; Request just explains where the key goes.
type envCredentials struct {
	key string
}

func (c envCredentials) Has(ctx context.Context) bool { return c.key != "" }

func (c envCredentials) Request(ctx context.Context) error {
	return errors.New("set GEMINI_API_KEY in the environment or a .env file")
}

type bridgeOptions struct {
	addr         string
	apiKey       string
	registry     *mode.Registry
	newTransport session.TransportFactory
	creds        session.Credentials
	model        string
	voice        string
	debug        bool
	logger       *slog.Logger
}

func runBridge(ctx context.Context, opts bridgeOptions) error {
	var gen speech.Generator
	if opts.apiKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  opts.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return fmt.Errorf("create genai client: %w", err)
		}
		gen = speech.NewGeminiGenerator(client, speech.GeneratorConfig{})
	}

	handler := bridge.New(bridge.Config{
		Registry:     opts.registry,
		NewTransport: opts.newTransport,
		Generator:    gen,
		Credentials:  opts.creds,
		Model:        opts.model,
		Voice:        opts.voice,
		Debug:        opts.debug,
		Logger:       opts.logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)

	srv := &http.Server{Addr: opts.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		opts.logger.Info("bridge listening", "addr", opts.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type localOptions struct {
	mode         mode.ID
	params       mode.Params
	registry     *mode.Registry
	newTransport session.TransportFactory
	creds        session.Credentials
	model        string
	voice        string
	debug        bool
	exportDir    string
	logger       *slog.Logger
}

func runLocal(ctx context.Context, opts localOptions) error {
	mgr, err := session.NewManager(session.ManagerConfig{
		Registry:     opts.registry,
		NewTransport: opts.newTransport,
		NewSink:      func() (playback.Sink, error) { return newSpeaker() },
		Mic:          newMicSource(),
		Credentials:  opts.creds,
		Model:        opts.model,
		Voice:        opts.voice,
		Debug:        opts.debug,
		Logger:       opts.logger,
	})
	if err != nil {
		return err
	}

	sess, events, err := mgr.Start(ctx, opts.mode, opts.params)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		mgr.Stop()
	}()

	fmt.Println("Listening. Speak into the microphone; press Ctrl-C to stop.")
	renderEvents(events)

	if opts.exportDir != "" {
		if err := exportNotes(sess, opts.exportDir); err != nil {
			opts.logger.Warn("notes export failed", "error", err)
		}
	}
	return nil
}

// renderEvents prints the event stream as a terminal transcript. Deltas
// stream inline under a speaker label; finalized feedback gets its own block.
func renderEvents(events <-chan session.Event) {
	var speaking string
	label := func(role string, name string) {
		if speaking != role {
			fmt.Printf("\n%s: ", name)
			speaking = role
		}
	}

	for ev := range events {
		switch ev := ev.(type) {
		case *session.GreetingEvent:
			fmt.Printf("\nTutor: %s\n", ev.Text)
			speaking = ""
		case *session.InputDeltaEvent:
			label("user", "You")
			fmt.Print(ev.Text)
		case *session.OutputDeltaEvent:
			label("ai", "Tutor")
			fmt.Print(ev.Text)
		case *session.TurnFinalizedEvent:
			fmt.Println()
			speaking = ""
			for _, turn := range ev.Turns {
				if turn.Feedback == nil {
					continue
				}
				fmt.Printf("  [%s] %s\n", turn.Feedback.Type, turn.Feedback.Correction)
				if turn.Feedback.Explanation != "" {
					fmt.Printf("      %s\n", turn.Feedback.Explanation)
				}
			}
			if ev.Stage != "" {
				fmt.Printf("  (next: %s)\n", ev.Stage)
			}
		case *session.InterruptedEvent:
			fmt.Println()
			speaking = ""
		case *session.ErrorEvent:
			fmt.Printf("\n! %s\n", ev.Message)
			speaking = ""
		case *session.DebugEvent:
			slog.Debug("pipeline", "category", ev.Category, "message", ev.Message)
		case *session.ClosedEvent:
			fmt.Printf("\nSession ended (%s).\n", ev.Reason)
		}
	}
}

func exportNotes(sess *session.Session, dir string) error {
	notes := sess.Notes()
	if len(notes) == 0 {
		return nil
	}

	path := filepath.Join(dir, conversation.ExportFileName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := sess.ExportNotes(f); err != nil {
		return err
	}
	fmt.Printf("Notes saved to %s\n", path)
	return nil
}
