package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"astroconnect/config"
	"astroconnect/database"
	"astroconnect/services/backend"
	"astroconnect/services/booking"
	"astroconnect/services/chat"
	"astroconnect/services/consultation"
	"astroconnect/services/realtime"
	"astroconnect/services/session"
	"astroconnect/utils"

	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	utils.InitializeLogger()
	logger := utils.GetLogger()
	defer logger.Sync()

	database.InitSessionStore()
	store := database.GetSessionStore()

	tokens := utils.StaticTokenProvider{
		Bearer: os.Getenv("ASTRO_TOKEN"),
		User:   os.Getenv("ASTRO_USER_ID"),
	}

	transcripts := chat.NewTranscriptService(
		chat.NewSessionCache(),
		store,
		time.Duration(config.AppConfig.TranscriptDebounceMs)*time.Millisecond,
	)
	channel := realtime.NewWebsocketChannel(config.AppConfig.ChannelURL, tokens)
	conn := realtime.NewConnectionManager(realtime.DefaultConfig(), channel, transcripts, tokens)
	negotiator := booking.NewNegotiator(conn, time.Duration(config.AppConfig.BookingTimeoutMs)*time.Millisecond)
	timers := session.NewTimerService(store)
	api := backend.NewClient(config.AppConfig.APIBaseURL, 15*time.Second, tokens)

	sessionCtx := consultation.NewContext(conn, negotiator, timers, transcripts, api)
	sessionCtx.Bind()
	defer sessionCtx.Close()

	// Recover any billing timers that outlived the previous process.
	startup, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	timers.OnForeground(startup)
	cancel()

	logger.Info("Consultation session core ready",
		zap.String("channel", config.AppConfig.ChannelURL),
		zap.String("env", config.GetEnv()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")
}
