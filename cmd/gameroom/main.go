// cmd/gameroom/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/jason-s-yu/gameroom/internal/cache"
	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/jason-s-yu/gameroom/internal/permission"
	"github.com/jason-s-yu/gameroom/internal/room"
	"github.com/jason-s-yu/gameroom/internal/transport"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const maxPasswordAttempts = 3

func main() {
	roomID := flag.String("room", "", "id of the room to join")
	password := flag.String("password", "", "room password, prompted for when needed")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	if *roomID == "" {
		logger.Fatal("-room is required")
	}
	if cfg.Token == "" {
		logger.Fatal("GAMEROOM_TOKEN is not set")
	}
	actor, err := auth.ActorFromToken(cfg.Token)
	if err != nil {
		logger.Fatalf("token: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store auth.CredentialStore
	if cfg.CredentialStore == "redis" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		store = cache.NewCredentialStore(rdb, "", cfg.CredentialTTL)
	}

	client := transport.New(cfg.APIURL, cfg.WSURL, cfg.Token, logger)
	gate := auth.NewGate(client, store, logger)
	in := bufio.NewScanner(os.Stdin)

	if err := admit(ctx, gate, *roomID, *password, in, os.Stdout); err != nil {
		logger.Fatalf("cannot enter room: %v", err)
	}

	session, err := room.New(*roomID, room.Deps{
		Transport:      client,
		Commands:       client,
		Permissions:    permission.NewStatic(actor.Role, nil),
		Gate:           gate,
		Actor:          actor,
		Logger:         logger,
		CommandTimeout: cfg.CommandTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	session.OnStateChange(func(st room.State) { fmt.Print(renderState(st)) })
	session.OnChat(func(m models.ChatMessage) { fmt.Println(renderChat(m)) })
	if err := session.Start(ctx); err != nil {
		logger.Fatalf("session: %v", err)
	}
	defer session.Close()

	fmt.Printf("joined as %s, type help for commands\n", actor.Nickname)
	r := &runner{session: session, emit: client, self: actor, out: os.Stdout}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			if st := session.CurrentSnapshot(); st.Error != "" {
				fmt.Println(st.Error)
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c, err := parseCommand(line)
			if err == nil {
				err = r.run(ctx, c)
			}
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

// admit passes the room's password gate, prompting on out for a password when the room
// needs one that was not given or was wrong.
func admit(ctx context.Context, gate *auth.Gate, roomID, password string, in *bufio.Scanner, out io.Writer) error {
	for attempt := 0; ; attempt++ {
		adm, err := gate.Admit(ctx, roomID, password)
		if err == nil {
			return nil
		}
		if !errors.Is(err, auth.ErrSessionUnauthorized) || attempt >= maxPasswordAttempts {
			return err
		}
		fmt.Fprintf(out, "%s, password: ", adm.Reason)
		if !in.Scan() {
			return err
		}
		password = strings.TrimSpace(in.Text())
	}
}
