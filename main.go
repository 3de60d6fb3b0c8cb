package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/artdiffusion/a1111-bot/internal/a1111"
	"github.com/artdiffusion/a1111-bot/internal/engine"
	"github.com/artdiffusion/a1111-bot/internal/jobstore"
	"github.com/artdiffusion/a1111-bot/internal/logger"
	"github.com/artdiffusion/a1111-bot/internal/replay"
	"github.com/artdiffusion/a1111-bot/internal/server"
	"github.com/artdiffusion/a1111-bot/internal/server/handler"
	"github.com/artdiffusion/a1111-bot/internal/settings"
	"github.com/artdiffusion/a1111-bot/internal/telegram"
)

func main() {
	_ = godotenv.Load()
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}
	var backendConfig a1111.Config
	if err := viper.UnmarshalKey("a1111", &backendConfig); err != nil {
		panic(err)
	}
	var telegramConfig telegram.Config
	if err := viper.UnmarshalKey("telegram", &telegramConfig); err != nil {
		panic(err)
	}
	var engineConfig engine.Config
	if err := viper.UnmarshalKey("engine", &engineConfig); err != nil {
		panic(err)
	}
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", "9000")
	viper.SetDefault("store.jobRecordsPath", "data/jobs.db")
	viper.SetDefault("store.jobRecordTTLHours", 72)
	viper.SetDefault("store.settingsDir", "data/settings")
	viper.SetDefault("log.path", "logs/a1111-bot.log")
	host := viper.GetString("server.host")
	port := viper.GetString("server.port")
	apiKey := viper.GetString("server.apiKey")

	logger.InitFile(viper.GetString("log.path"), 50, 5)
	logger.Infof("service is starting, host: %s, port: %s", host, port)

	records, err := jobstore.Open(viper.GetString("store.jobRecordsPath"),
		time.Duration(viper.GetInt("store.jobRecordTTLHours"))*time.Hour)
	if err != nil {
		panic(err)
	}
	defer records.Close()
	records.StartPurger(context.Background(), time.Hour)

	users, err := settings.NewStore(viper.GetString("store.settingsDir"))
	if err != nil {
		panic(err)
	}

	backend := a1111.NewClient(backendConfig)
	messenger := telegram.NewClient(telegramConfig)

	queue := engine.NewQueue(engineConfig, backend, messenger, records, users)
	queue.Start(engineConfig.Workers)
	defer queue.Stop()

	resolver := replay.NewResolver(records, users, backend, queue, messenger, messenger)
	h := handler.New(queue, resolver, users, backend, messenger)
	server.Start(host, port, apiKey, h)
}
