package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"pdf-annotator/app"
)

func main() {
	server := app.NewServer()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		if err := server.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		os.Exit(0)
	}()

	log.Fatal(server.Start(""))
}
