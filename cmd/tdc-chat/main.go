package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jitae1214/TDC-sub000/chat"
	"github.com/jitae1214/TDC-sub000/chat/rest"
)

var (
	flagRoom   int64
	flagURL    string
	flagAPIURL string
	flagUser   string
	flagToken  string
)

// rootCmd joins a room, prints the backfilled history and live messages, and
// sends every stdin line as a chat message.
var rootCmd = &cobra.Command{
	Use:   "tdc-chat",
	Short: "Interactive terminal client for the TDC workspace chat",
	Long: `tdc-chat connects to the workspace broker, joins a room and bridges it
to the terminal: history and live messages are printed to stdout, and every
line read from stdin is sent to the room.

Configuration comes from CHAT_* environment variables (a .env file is loaded
when present); flags override the environment.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().Int64VarP(&flagRoom, "room", "r", 1, "room id to join")
	rootCmd.Flags().StringVar(&flagURL, "url", "", "broker websocket URL (overrides CHAT_BROKER_URL)")
	rootCmd.Flags().StringVar(&flagAPIURL, "api-url", "http://localhost:8080/api", "REST API base URL")
	rootCmd.Flags().StringVarP(&flagUser, "user", "u", "", "display name (overrides CHAT_USER_NAME)")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bearer token (overrides CHAT_TOKEN)")
}

func run(cmd *cobra.Command, _ []string) error {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := chat.ConfigFromEnv()
	if err != nil {
		return err
	}
	if flagURL != "" {
		cfg.URL = flagURL
	}
	if flagUser != "" {
		cfg.User = flagUser
	}
	token := flagToken
	if token == "" {
		token = os.Getenv("CHAT_TOKEN")
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chat.NewClient(cfg)
	client.SetLogger(chat.NewZerologLogger(log))
	client.SetTokenProvider(chat.StaticToken(token))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	api := rest.NewClient(flagAPIURL)
	api.SetToken(token)

	session := chat.NewSession(client, api, nil, cfg)
	session.SetLogger(chat.NewZerologLogger(log))
	session.OnEvent(func(ev chat.Event) {
		fmt.Printf("[%s] %s: %s\n", ev.Timestamp.Format("15:04"), ev.SenderName, ev.Content)
	})
	session.OnTyping(func(ev chat.Event) {
		fmt.Fprintf(os.Stderr, "%s is typing...\n", ev.SenderName)
	})
	session.OnStateChange(func(st chat.SessionState) {
		log.Info().Stringer("state", st).Msg("session state")
	})
	defer session.Close()

	if err := session.Select(ctx, flagRoom); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := session.SendMessage(ctx, line); err != nil {
				log.Warn().Err(err).Msg("message dropped")
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
