package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"arq/internal/config"
	"arq/internal/logging"
	"arq/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "configs/receiver.yaml", "receiver configuration file")
	mode := flag.String("mode", "", "ARQ mode, gbn or sr")
	window := flag.Uint64("window", 0, "window size")
	file := flag.String("file", "", "output file")
	flag.Parse()

	log.Println("Receiver started")
	cfg, err := config.LoadReceiverYaml(*cfgPath)
	if err != nil {
		log.Fatalf("Error loading configuration. %s", err)
	}

	if *mode != "" {
		if cfg.Transfer.Mode, err = transport.ParseMode(*mode); err != nil {
			log.Fatalf("Error parsing -mode. %s", err)
		}
	}

	if *window > 0 {
		cfg.Transfer.Window = *window
	}

	if *file != "" {
		cfg.File = *file
	}

	logger, err := logging.New(transport.RoleReceiver, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error creating logger. %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	canceller := transport.NewCanceller(ctx)
	go canceller.ListenQuit(os.Stdin)

	receiver := transport.NewReceiverTransport(
		cfg.Addr,
		cfg.File,
		cfg.Transfer,
		cfg.Socket,
		transport.NewLogObserver(logger),
	)

	log.Printf("Listening on %s (%v, window %d), type q to stop", cfg.Addr, cfg.Transfer.Mode, cfg.Transfer.Window)
	transfer, err := receiver.Run(canceller.Context())
	if err != nil {
		log.Fatalf("Error receiving into %s. %s", cfg.File, err)
	}

	log.Println(transfer)
}
