// Command oramacore-chat is a small interactive terminal client for an
// OramaCore collection: type a question, watch the answer stream in.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	oramacore "github.com/oramasearch/oramacore-client-go"
)

type config struct {
	URL         string `env:"ORAMACORE_URL" envDefault:"http://localhost:8080"`
	ReadAPIKey  string `env:"ORAMACORE_READ_API_KEY"`
	WriteAPIKey string `env:"ORAMACORE_WRITE_API_KEY"`
	Collection  string `env:"ORAMACORE_COLLECTION"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, falling back to environment variables")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("unable to parse environment: %v", err)
	}

	collection := flag.String("collection", cfg.Collection, "collection ID to chat with")
	reason := flag.Bool("reason", false, "use the planned-answer endpoint")
	related := flag.Bool("related", false, "request related-question generation")
	flag.Parse()

	if *collection == "" {
		fmt.Println("No collection specified. Set ORAMACORE_COLLECTION or pass -collection.")
		os.Exit(1)
	}

	client := oramacore.NewOramaCoreClient(oramacore.ClientConfig{
		URL:         cfg.URL,
		ReadAPIKey:  cfg.ReadAPIKey,
		WriteAPIKey: cfg.WriteAPIKey,
	})
	client.SetCollection(*collection)

	session, err := client.NewAnswerSession(oramacore.AnswerSessionConfig{})
	if err != nil {
		log.Fatalf("unable to create answer session: %v", err)
	}

	fmt.Printf("Chatting with collection %q (session %s).\n", *collection, session.ID())
	fmt.Println("Commands: /regenerate, /clear, /exit")

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit":
			return
		case "/clear":
			session.ClearSession()
			fmt.Println("Session cleared.")
			continue
		case "/regenerate":
			stream, err := session.RegenerateLastStream(ctx)
			if err != nil {
				fmt.Printf("Cannot regenerate: %v\n", err)
				continue
			}
			printStream(stream)
			continue
		}

		params := oramacore.AskParams{Query: line, Related: *related}
		var stream <-chan oramacore.Response
		if *reason {
			stream, err = session.ReasonStream(ctx, params)
		} else {
			stream, err = session.AnswerStream(ctx, params)
		}
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			continue
		}
		printStream(stream)
	}
}

// printStream writes only the unseen suffix of each snapshot so the answer
// appears to type itself.
func printStream(stream <-chan oramacore.Response) {
	printed := 0
	for r := range stream {
		switch r.Type {
		case oramacore.ResponseTypePartialText:
			if len(r.Content) > printed {
				fmt.Print(r.Content[printed:])
				printed = len(r.Content)
			}
		case oramacore.ResponseTypeError:
			fmt.Printf("\nStream failed: %s\n", r.Content)
			return
		}
	}
	fmt.Println()
}
