package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"

	configs "github.com/avvvet/explain-services/configs"
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/broker"
	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/db"
	"github.com/avvvet/explain-services/internal/gamesvc/store"
	natscli "github.com/avvvet/explain-services/internal/nats"
)

const SERVICE_NAME = "ctl"

var instanceId string

func init() {
	instanceId = configs.CreateUniqueInstance(SERVICE_NAME)
	configs.Logging(SERVICE_NAME + "_service_" + instanceId)
	configs.LoadEnv(SERVICE_NAME)
}

// Usage:
//
//	ctlsvc                   run the durable room janitor
//	ctlsvc retry <roomId>    ask session servers to retry a stalled judge call
//	ctlsvc close <roomId>    ask session servers to close a room
func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := sendCommand(cfg, os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	runJanitor(cfg)
}

func sendCommand(cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ctlsvc retry|close <roomId>")
	}

	var typ string
	switch args[0] {
	case "retry":
		typ = comm.ControlRoomRetry
	case "close":
		typ = comm.ControlRoomClose
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer n.Close()

	msg, err := comm.NewMessage(typ, comm.ControlCommand{RoomID: args[1]})
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.Conn.Publish(comm.SubjectControl, payload); err != nil {
		return fmt.Errorf("publish %s: %w", typ, err)
	}

	log.Infof("%s sent for room %s", typ, args[1])
	return nil
}

// runJanitor marks durable rooms nobody will come back to as expired. Session
// servers do the same for their own rooms; this process also covers rows left
// by instances that died.
func runJanitor(cfg *config.Config) {
	if cfg.PostgresURL == "" {
		log.Fatal("POSTGRES_URL is required for the janitor")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbpool, err := db.Connect(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dbpool.Close()
	log.Printf("pg connection established successfully")

	var events *broker.Broker
	if n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId); err != nil {
		log.Errorf("Error: unable to connect to NATS server, events disabled %v", err)
		events = broker.NewBroker(nil, instanceId)
	} else {
		defer n.Close()
		log.Printf("NATS connection established successfully %s", n.Url)
		events = broker.NewBroker(n.Conn, instanceId)
	}

	rooms := store.NewRoomStore(dbpool)

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Rooms.SweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			n, err := rooms.ExpireStaleRooms(ctx, time.Now())
			if err != nil {
				log.Errorf("Error [RoomStore.ExpireStaleRooms] %v", err)
				return
			}
			if n > 0 {
				log.Infof("janitor expired %d rooms", n)
				events.PublishRoomsExpired(n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.Fatalf("janitor job: %v", err)
	}

	sched.Start()
	log.Infof("%s janitor running every %s", SERVICE_NAME, cfg.Rooms.SweepInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := sched.Shutdown(); err != nil {
		log.Errorf("scheduler shutdown: %v", err)
	}
	log.Infof("%s service stopped", SERVICE_NAME)
}
