package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"Concierge-Engine/sdk/go/concierge"
)

func main() {
	baseURL := os.Getenv("CONCIERGE_API")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client, err := concierge.NewClient(baseURL, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	created, err := client.SubmitWish(ctx, concierge.WishSubmission{
		UserID: "demo-user",
		Wish:   "帮我买一本《Go 程序设计语言》",
	})
	if err != nil {
		log.Fatalf("submit wish: %v", err)
	}
	fmt.Printf("task %s proposed: %s\n", created.ID, created.ProposedAction)

	if _, err := client.Confirm(ctx, created.ID); err != nil {
		log.Fatalf("confirm task: %v", err)
	}

	for {
		status, err := client.Status(ctx, created.ID)
		if err != nil {
			log.Fatalf("poll status: %v", err)
		}
		fmt.Printf("status=%s step=%s\n", status.Status, status.CurrentStep)

		switch status.Status {
		case "completed":
			if status.Result != nil {
				fmt.Printf("done: %s (%s)\n", status.Result.Message, status.Result.ConfirmationNumber)
			}
			return
		case "failed", "cancelled":
			fmt.Printf("terminal: %s %s\n", status.ErrorCode, status.Error)
			return
		case "awaiting_credentials":
			err := client.ProvideCredentials(ctx, created.ID, status.RequiredService, map[string]string{
				"username": "demo-user",
				"password": os.Getenv("CONCIERGE_DEMO_PASSWORD"),
			}, true)
			if err != nil {
				log.Fatalf("provide credentials: %v", err)
			}
		}

		time.Sleep(time.Second)
	}
}
