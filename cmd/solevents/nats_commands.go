package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/atomiqlabs/atomiq-chain-solana/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommands() *cli.Command {
	natsURL := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		}
	}
	return &cli.Command{
		Name:  "nats",
		Usage: "NATS event stream commands",
		Subcommands: []*cli.Command{
			{
				Name:      "subscribe",
				Usage:     "Subscribe to republished program events",
				ArgsUsage: "[event_name]",
				Description: `Stream events republished to NATS JetStream by the server.

Events are published to the subject: events.{program}.{event_name}
Without an event name every event of the program is streamed.

Example:
  solevents --program <address> nats subscribe Claim --json`,
				Flags: []cli.Flag{
					natsURL(),
					&cli.BoolFlag{
						Name:    "durable",
						Aliases: []string{"d"},
						Usage:   "Create a durable consumer (survives restarts)",
					},
					&cli.StringFlag{
						Name:  "consumer-name",
						Usage: "Consumer name (required for durable)",
						Value: "solevents-cli",
					},
				},
				Action: func(c *cli.Context) error {
					program, err := programFlag(c)
					if err != nil {
						return err
					}
					subject := consumerSubject(program.String(), c.Args().First())

					ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer cancel()

					return subscribeEvents(ctx, c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
				},
			},
			{
				Name:  "inspect-stream",
				Usage: "Inspect the " + natspkg.StreamName + " JetStream stream",
				Flags: []cli.Flag{natsURL()},
				Action: func(c *cli.Context) error {
					return inspectStream(c.Context, c.String("nats-url"), c.Bool("json"))
				},
			},
		},
	}
}

// consumerSubject returns the filter subject for program's events named name, or all
// of the program's events when name is empty.
func consumerSubject(program, name string) string {
	if name == "" {
		name = "*"
	}
	return natspkg.Subject(program, name)
}

func connectJetStream(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL, nats.Name("solevents-cli"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// subscribeEvents consumes subject until ctx is done.
func subscribeEvents(ctx context.Context, natsURL, subject string, durable bool, consumerName string, jsonOutput bool) error {
	nc, js, err := connectJetStream(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		if durable {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.ProgramEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			count++

			if jsonOutput {
				fmt.Println(string(msg.Data()))
			} else {
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Event #%d: %s\n", count, event.Name)
				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Signature:    %s\n", event.Signature)
				fmt.Printf("Slot:         %d\n", event.Slot)
				fmt.Printf("Block Time:   %s\n", event.BlockTime.Format(time.RFC3339))
				data, _ := json.Marshal(event.Data)
				fmt.Printf("Data:         %s\n", data)
				fmt.Printf("Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func inspectStream(ctx context.Context, natsURL string, jsonOutput bool) error {
	nc, js, err := connectJetStream(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	stream, err := js.Stream(ctx, natspkg.StreamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if jsonOutput {
		return outputJSON(info)
	}
	fmt.Printf("Stream: %s\n", info.Config.Name)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
	fmt.Printf("Messages:     %d\n", info.State.Msgs)
	fmt.Printf("Bytes:        %d\n", info.State.Bytes)
	fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
	fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
	fmt.Printf("Consumers:    %d\n", info.State.Consumers)
	fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
	fmt.Printf("Storage:      %s\n", info.Config.Storage)
	return nil
}
