package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"

	"arq/internal/config"
	"arq/internal/logging"
	"arq/internal/transport"
)

func main() {
	log.Println("Running sender and receiver in one process")

	if len(os.Args) != 2 {
		log.Fatalf("Error: Missing config file path!\ndev <path-to-config>\n")
	}

	cfg, err := config.LoadDevYaml(os.Args[1])
	if err != nil {
		log.Fatalf("Error loading configuration. %s", err)
	}

	senderLog, err := logging.New(transport.RoleSender, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error creating logger. %s", err)
	}

	receiverLog, err := logging.New(transport.RoleReceiver, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error creating logger. %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	receiver := transport.NewReceiverTransport(
		cfg.Receiver.Addr,
		cfg.Receiver.File,
		cfg.Receiver.Transfer,
		cfg.Receiver.Socket,
		transport.NewLogObserver(receiverLog),
	)

	var wg sync.WaitGroup
	receiverDone := make(chan struct{})

	wg.Add(1)
	go func() {
		defer close(receiverDone)
		ReceiverExecute(ctx, &receiver, &wg)
	}()

	// The sender starts once the receiver socket exists
	peer := cfg.Sender.RemoteAddr
	select {
	case addr := <-receiver.Bound():
		if peer.Port == 0 {
			peer = addr.(*net.UDPAddr)
		}
	case <-receiverDone:
		wg.Wait()
		return
	}

	sender := transport.NewSenderTransport(
		cfg.Sender.LocalAddr.String(),
		peer,
		cfg.Sender.File,
		cfg.Sender.Transfer,
		cfg.Sender.Socket,
		transport.NewLogObserver(senderLog),
	)

	wg.Add(1)
	go SenderExecute(ctx, &sender, &wg)
	wg.Wait()
}

func SenderExecute(ctx context.Context, sender *transport.SenderTransport, wg *sync.WaitGroup) {
	defer wg.Done()

	transfer, err := sender.Run(ctx)
	if err != nil {
		log.Printf("Sender failed. %s", err)
	}
	log.Println(transfer)
}

func ReceiverExecute(ctx context.Context, receiver *transport.ReceiverTransport, wg *sync.WaitGroup) {
	defer wg.Done()

	transfer, err := receiver.Run(ctx)
	if err != nil {
		log.Printf("Receiver failed. %s", err)
	}
	log.Println(transfer)
}
