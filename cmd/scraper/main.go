package main

import (
	"flag"
	"log"

	"hyperwatch/config"
	"hyperwatch/scraper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}
	if cfg.Log.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	app, err := scraper.New(cfg)
	if err != nil {
		log.Fatalf("❌ Init: %v", err)
	}
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}
