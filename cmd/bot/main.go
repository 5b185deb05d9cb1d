package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"chat-relay/internal/access"
	"chat-relay/internal/config"
	"chat-relay/internal/engine"
	"chat-relay/internal/guard"
	"chat-relay/internal/llm"
	"chat-relay/internal/pending"
	"chat-relay/internal/scheduler"
	"chat-relay/internal/stats"
	"chat-relay/internal/store"
	"chat-relay/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	accessRepo, err := access.NewFileRepository(cfg.UsersFilePath)
	if err != nil {
		log.Fatalf("failed to init access repo: %v", err)
	}
	accessSvc, err := access.NewService(accessRepo, cfg.OwnerUserID, cfg.PublicUsage)
	if err != nil {
		log.Fatalf("failed to init access service: %v", err)
	}

	pendingRepo, err := pending.NewFileRepository(cfg.PendingFilePath)
	if err != nil {
		log.Fatalf("failed to init pending repo: %v", err)
	}

	book, err := stats.Load(cfg.StatsFilePath)
	if err != nil {
		log.Fatalf("failed to load stats: %v", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	persona, err := config.LoadPersona(cfg.PersonaFilePath)
	if err != nil {
		log.Fatalf("failed to load persona: %v", err)
	}

	var client llm.Client = llm.NewOpenAI(
		cfg.OpenAIAPIKey,
		cfg.OpenAIBaseURL,
		cfg.OpenAIModel,
		cfg.MaxOutputTokens,
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
	)
	client = llm.WithRetry(client, cfg.RequestTries)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatalf("failed to create telegram api: %v", err)
	}

	tr := telegram.NewTransport(api, cfg.OwnerUserID, cfg.ViewerBaseURL)

	eng := engine.New(
		tr,
		client,
		db,
		book,
		accessSvc,
		pendingRepo,
		guard.New(),
		llm.NewEstimator(cfg.OpenAIModel),
		engine.Options{
			BotName:              api.Self.UserName,
			Persona:              persona,
			MaxInputTokens:       cfg.MaxInputTokens,
			IgnorePrefixes:       cfg.IgnorePrefixes,
			AllowedBots:          cfg.AllowedBots,
			ShowRegenerateButton: cfg.ShowRegenerateButton,
		},
	)

	sweeper := scheduler.NewSweeper(db, cfg.DeleteMessageDays)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("failed to start retention sweep: %v", err)
	}
	defer sweeper.Stop()

	bot := telegram.NewBot(api, tr, eng, accessSvc, pendingRepo, book, telegram.Options{
		OwnerID:     cfg.OwnerUserID,
		UsdPerToken: cfg.UsdPerToken,
		HelpText:    readHelp(cfg.HelpFilePath),
		PublicUsage: cfg.PublicUsage,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	bot.Start(ctx)
}

func readHelp(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to read help text: %v", err)
		return "Mention me or message me directly and I'll reply."
	}
	return string(data)
}
