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
	cfgPath := flag.String("config", "configs/sender.yaml", "sender configuration file")
	mode := flag.String("mode", "", "ARQ mode, gbn or sr")
	window := flag.Uint64("window", 0, "window size")
	loss := flag.Float64("loss", -1, "probability of dropping a DATA packet")
	file := flag.String("file", "", "file to send")
	flag.Parse()

	log.Println("Sender started")
	cfg, err := config.LoadSenderYaml(*cfgPath)
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

	if *loss >= 0 {
		cfg.Transfer.Loss = *loss
	}

	if *file != "" {
		cfg.File = *file
	}

	logger, err := logging.New(transport.RoleSender, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error creating logger. %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sender := transport.NewSenderTransport(
		cfg.LocalAddr.String(),
		cfg.RemoteAddr,
		cfg.File,
		cfg.Transfer,
		cfg.Socket,
		transport.NewLogObserver(logger),
	)

	log.Printf("Sending %s to %s (%v, window %d)", cfg.File, cfg.RemoteAddr, cfg.Transfer.Mode, cfg.Transfer.Window)
	transfer, err := sender.Run(ctx)
	if err != nil {
		log.Fatalf("Error sending %s. %s", cfg.File, err)
	}

	log.Println(transfer)
}
