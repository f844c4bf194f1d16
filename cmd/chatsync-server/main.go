package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/evertasker/chatsync/internal/server"
)

func main() {
	addr := flag.String("addr", ":4000", "Address to listen on (e.g. :4000)")
	flag.Parse()

	srv := server.New(log.Default())
	httpSrv := &http.Server{Addr: *addr, Handler: srv.Router()}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting chatsync server on %s...", *addr)
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		httpSrv.Close()
	}

	log.Println("Server stopped")
}
