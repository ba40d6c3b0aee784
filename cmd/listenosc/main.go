package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/jdginn/antidrift/devices"
)

func main() {
	port := flag.Int("port", 0, "UDP port to listen for OSC messages")
	host := flag.String("host", "0.0.0.0", "interface to bind")
	flag.Parse()

	if *port == 0 {
		fmt.Println("Usage: listenosc -port <port> [-host <addr>]")
		os.Exit(1)
	}
	addr := *host + ":" + strconv.Itoa(*port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Prints each message with the route the relay would give it.
	l := devices.NewOscListener(addr, devices.NewDumpDispatcher(os.Stdout))
	fmt.Printf("Listening for OSC messages on %s (UDP)...\n", addr)
	if err := l.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "listenosc: %v\n", err)
		os.Exit(1)
	}
}
