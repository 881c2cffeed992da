package main

import (
	"net/http"
	"time"

	"godeploy/config"
	"godeploy/logging"
	"godeploy/storage"
)

func main() {
	log := logging.L()

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	disk, err := storage.NewDiskStore(cfg.Storage.Dir)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           storage.NewServer(disk).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("📦 Storage Service is running on port %s, serving %s...", cfg.Port, disk.Root())
	log.Fatal(srv.ListenAndServe())
}
