// advisorctl - HuskyTrack administration CLI
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/huskytrack/advisor/internal/advisor"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/config"
	"github.com/huskytrack/advisor/internal/domain"
	"github.com/huskytrack/advisor/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	userID  string
	chatID  int
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisorctl",
		Short: "Administer the HuskyTrack advising server",
		Long: `advisorctl works directly against the server's store (STORE_DRIVER,
DB_PATH, REDIS_URL) and chat backend (CHAT_BACKEND_URL). It reads the same
environment and .env file as the server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	seedCmd := &cobra.Command{
		Use:   "seed <profiles.yaml>",
		Short: "Create or update student profiles from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}

	askCmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Send a message as a student and print the advisor's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringVar(&userID, "user", "", "student user ID (required)")
	askCmd.Flags().IntVar(&chatID, "chat", -1, "chat ID to continue (default: start a new chat)")
	_ = askCmd.MarkFlagRequired("user")

	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "List a student's chats, or print one with --chat",
		RunE:  runChats,
	}
	chatsCmd.Flags().StringVar(&userID, "user", "", "student user ID (required)")
	chatsCmd.Flags().IntVar(&chatID, "chat", -1, "print the messages of this chat")
	_ = chatsCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(seedCmd, askCmd, chatsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (store.Repository, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	repo, err := store.Open(cfg.StoreDriver, cfg.DBPath, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return repo, cfg, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	profiles, err := store.ParseSeed(f)
	if err != nil {
		return err
	}

	repo, _, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	created, updated, err := store.Seed(cmd.Context(), repo, profiles)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d profiles (%d created, %d updated)\n", len(profiles), created, updated)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	repo, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	backend, err := advisor.NewClient(advisor.ClientConfig{
		URL:            cfg.BackendURL,
		RequestTimeout: cfg.RequestTimeout,
	}, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chat.NewRegistry(chat.RegistryConfig{Store: repo, Invoker: backend})
	sess, profile, err := registry.Session(ctx, userID, userID)
	if err != nil {
		return err
	}

	if chatID >= 0 {
		sess.Open(chatID)
	} else {
		sess.NewChat()
	}

	sender := profile.Profile().Name
	if sender == "" {
		sender = userID
	}
	turn, err := sess.Send(ctx, sender, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[chat %d] %s: %s\n", turn.ChatID, turn.Reply.Sender, turn.Reply.Text)
	if turn.Failed {
		return fmt.Errorf("advisor request failed")
	}
	return nil
}

func runChats(cmd *cobra.Command, _ []string) error {
	repo, _, err := openStore()
	if err != nil {
		return err
	}
	defer repo.Close()

	p, err := repo.GetProfile(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("no profile for user %q", userID)
	}

	out := cmd.OutOrStdout()
	if chatID >= 0 {
		rec, ok := chat.Resolve(p.Chats, chatID)
		if !ok {
			return fmt.Errorf("user %q has no chat %d", userID, chatID)
		}
		fmt.Fprintf(out, "%s\n", rec.Title)
		for _, m := range rec.Messages {
			fmt.Fprintf(out, "%s: %s\n", m.Sender, m.Text)
		}
		return nil
	}

	chats := domain.CloneChats(p.Chats)
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID > chats[j].ID })
	for _, c := range chats {
		fmt.Fprintf(out, "%4d  %-24s  %d messages\n", c.ID, c.Title, len(c.Messages))
	}
	return nil
}
