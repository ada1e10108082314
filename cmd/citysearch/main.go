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
	"time"

	"github.com/suPer8Hu/city-searcher/internal/client"
	"github.com/suPer8Hu/city-searcher/internal/poll"
)

const usage = `usage: citysearch [-api URL] <command> [args]

commands:
  cities                      list the cities that can be asked about
  ask -city NAME QUESTION     open a session and ask the first question
  sessions                    list recent sessions grouped by day
  chat -session ID            show a session and keep asking in it
`

func main() {
	apiURL := flag.String("api", envOr("CITYSEARCH_API", "http://localhost:8080"), "API base URL")
	interval := flag.Duration("poll", poll.DefaultInterval, "pending answer poll interval")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*apiURL, 30*time.Second)
	args := flag.Args()[1:]

	var err error
	switch flag.Arg(0) {
	case "cities":
		err = listCities(ctx, c, os.Stdout)
	case "ask":
		err = ask(ctx, c, args, *interval)
	case "sessions":
		err = listSessions(ctx, c, os.Stdout, time.Now())
	case "chat":
		err = chat(ctx, c, args, *interval)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// errorText prefers the API's own message.
func errorText(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func listCities(ctx context.Context, c *client.Client, w io.Writer) error {
	cities, err := c.FetchCities(ctx)
	if err != nil {
		return fmt.Errorf("Failed to fetch cities. Please try again later. (%w)", err)
	}
	if len(cities) == 0 {
		fmt.Fprintln(w, "No cities found.")
		return nil
	}
	for _, city := range cities {
		fmt.Fprintf(w, "%d\t%s\n", city.ID, client.DisplayName(city.Name))
	}
	return nil
}

func listSessions(ctx context.Context, c *client.Client, w io.Writer, now time.Time) error {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch sessions: %w", err)
	}
	groups := client.GroupSessions(sessions, now)
	if len(groups) == 0 {
		fmt.Fprintln(w, "No recent sessions.")
		return nil
	}
	for _, g := range groups {
		fmt.Fprintln(w, g.Title)
		for _, s := range g.Sessions {
			fmt.Fprintf(w, "  [%d] %s\n", s.ID, s.Label())
		}
	}
	return nil
}

func ask(ctx context.Context, c *client.Client, args []string, interval time.Duration) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	city := fs.String("city", "", "city name")
	wait := fs.Bool("wait", true, "wait for the answer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("a question is required")
	}

	sessionID, err := c.Ask(ctx, *city, query)
	if err != nil {
		return err
	}
	fmt.Printf("session %d\n", sessionID)
	if !*wait {
		return nil
	}

	view := client.NewSessionView(c, sessionID, nil).WithInterval(interval)
	defer view.Close()
	done, err := view.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Println("waiting for the answer...")
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	printThread(os.Stdout, view.Messages())
	return nil
}

func chat(ctx context.Context, c *client.Client, args []string, interval time.Duration) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	sessionID := fs.Uint64("session", 0, "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == 0 {
		return errors.New("-session is required")
	}

	reg := poll.NewRegistry()
	defer reg.StopAll()

	view := client.NewSessionView(c, *sessionID, reg).WithInterval(interval)
	view.OnError = func(err error) { fmt.Fprintln(os.Stderr, "error:", errorText(err)) }

	done, err := view.Load(ctx)
	if err != nil {
		return fmt.Errorf("Failed to load messages: %w", err)
	}
	printThread(os.Stdout, view.Messages())
	go announce(ctx, view, done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := view.Send(ctx, line)
			switch {
			case errors.Is(err, client.ErrEmptyMessage):
				continue
			case errors.Is(err, client.ErrPolling):
				fmt.Println("still waiting for the previous answer")
				continue
			case err != nil:
				fmt.Printf("%s (%s)\n", client.SendFailedNote, errorText(err))
				continue
			}
			go announce(ctx, view, done)
		}
	}
}

// announce prints the thread once the poll started by Load or Send ends.
func announce(ctx context.Context, view *client.SessionView, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
		return
	}
	if view.Polling() {
		return
	}
	fmt.Println()
	printThread(os.Stdout, view.Messages())
	fmt.Print("> ")
}

func printThread(w io.Writer, msgs []client.Message) {
	for _, m := range msgs {
		who := "you"
		if m.MessageType != "user" {
			who = "city"
		}
		line := fmt.Sprintf("%s: %s", who, m.Content)
		if m.Error != "" {
			line += "  [" + m.Error + "]"
		}
		fmt.Fprintln(w, line)
	}
}
