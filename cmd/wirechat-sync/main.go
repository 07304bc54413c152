// wirechat-sync is a line-oriented client for one conversation. It logs in
// over REST, loads recent history, joins the conversation over WebSocket and
// sends every stdin line as a message, printing delivery state changes.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/wirechat-sync/wirechat"
	"github.com/vovakirdan/wirechat-sync/wirechat/rest"
)

type options struct {
	configPath string
	url        string
	apiURL     string
	user       string
	password   string
	register   bool
	token      string
	room       string
	passphrase string
	codec      string
	logLevel   string
	history    int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var o options
	fs := pflag.NewFlagSet("wirechat-sync", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&o.url, "url", "", "WebSocket URL (overrides config)")
	fs.StringVar(&o.apiURL, "api", "", "REST base URL, e.g. http://localhost:8080/api")
	fs.StringVarP(&o.user, "user", "u", "", "user name")
	fs.StringVar(&o.password, "password", "", "password for REST login (guest login when empty)")
	fs.BoolVar(&o.register, "register", false, "create the account before logging in")
	fs.StringVar(&o.token, "token", "", "use this credential instead of logging in")
	fs.StringVarP(&o.room, "room", "r", "general", "conversation to join")
	fs.StringVar(&o.passphrase, "passphrase", "", "seal outgoing messages and open sealed ones")
	fs.StringVar(&o.codec, "codec", "", "frame codec: json or cbor (overrides config)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level")
	fs.IntVar(&o.history, "history", 50, "messages of history to load")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return &o, fs, nil
}

// loadConfig layers explicitly set flags over the config file.
func loadConfig(o *options, fs *pflag.FlagSet) (wirechat.Config, error) {
	cfg := wirechat.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = wirechat.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("url") {
		cfg.URL = o.url
	}
	if fs.Changed("user") {
		cfg.User = o.user
	}
	if fs.Changed("codec") {
		cfg.Codec = o.codec
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	o, fs, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o, fs)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := rest.NewClient(o.apiURL)
	credential := o.token
	if credential == "" && o.apiURL != "" {
		if credential, err = login(ctx, api, cfg.User, o.password, o.register); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	api.SetToken(credential)

	client := wirechat.NewClient(cfg)
	client.SetLogger(wirechat.NewLogrusLogger(log))
	defer client.Disconnect()

	view := newView(os.Stdout, cfg.User, o.passphrase)
	rec := client.NewReconciler()
	defer rec.Close()
	rec.OnChange(view.show)

	client.OnStateChanged(func(ev wirechat.StateChanged) {
		view.status("%s -> %s", ev.OldState, ev.NewState)
	})
	client.OnConnectionLost(func(ev wirechat.ConnectionLost) {
		view.status("offline after %d attempts: %v", ev.Attempts, ev.Err)
	})
	wirechat.On(client.Listeners(), func(ev wirechat.TypingStarted) {
		if ev.ConversationID == o.room {
			view.status("%s is typing", ev.UserID)
		}
	})

	if o.apiURL != "" && o.history > 0 {
		page, err := api.GetMessages(ctx, o.room, o.history, "")
		if err != nil {
			log.WithError(err).Warn("history unavailable")
		} else {
			rec.Seed(page.Events())
		}
	}

	// Joining first queues the room; Connect replays it before returning.
	if err := client.Join(o.room); err != nil {
		return err
	}
	view.status("connecting to %s", cfg.URL)
	if err := client.Connect(ctx, credential); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	view.status("joined %s. /read <server-id>, /typing, /list, /quit", o.room)

	lines := make(chan string)
	go readInput(lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := handleLine(client, rec, view, o.room, line)
			if err != nil {
				view.failure(err)
			}
			if done {
				return nil
			}
		}
	}
}

func login(ctx context.Context, api *rest.Client, user, password string, register bool) (string, error) {
	var (
		resp *rest.TokenResponse
		err  error
	)
	switch {
	case register:
		resp, err = api.Register(ctx, rest.RegisterRequest{Username: user, Password: password})
	case password == "":
		resp, err = api.GuestLogin(ctx)
	default:
		resp, err = api.Login(ctx, rest.LoginRequest{Username: user, Password: password})
	}
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func readInput(dst chan<- string) {
	defer close(dst)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		dst <- scanner.Text()
	}
}
