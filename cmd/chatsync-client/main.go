package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/evertasker/chatsync"
	"github.com/evertasker/chatsync/pkg/wire"
)

func main() {
	url := flag.String("url", "ws://localhost:4000/socket/websocket", "Websocket endpoint")
	user := flag.String("user", "", "User id to connect as")
	chat := flag.String("chat", "demo", "Chat id to join")
	flag.Parse()

	if *user == "" {
		log.Fatal("User id is required. Use -user flag")
	}

	c := chatsync.New(chatsync.Config{URL: *url})
	defer c.Close()

	c.OnConnectionChange(func(state chatsync.ConnectionState) {
		fmt.Printf("*** connection: %s ***\n", state)
	})
	c.OnEvent(wire.EventMessageNew, func(payload any) {
		msg, ok := payload.(*wire.Message)
		if !ok || msg.SenderID == *user {
			return
		}
		fmt.Printf("[%s]: %s\n", msg.SenderID, msg.Content)
	})
	c.OnTyping(func(conversationID string, userIDs []string) {
		if len(userIDs) > 0 {
			fmt.Printf("*** typing in %s: %s ***\n", conversationID, strings.Join(userIDs, ", "))
		}
	})
	c.OnPresence(func(roster []wire.PresenceEntry) {
		online := make([]string, 0, len(roster))
		for _, e := range roster {
			online = append(online, e.UserID)
		}
		fmt.Printf("*** online: %s ***\n", strings.Join(online, ", "))
	})

	// The reference server accepts the user id as the bearer token.
	if err := c.Connect(*user, *user); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	if err := c.JoinChat(*chat); err != nil {
		log.Fatalf("Failed to join chat %s: %v", *chat, err)
	}

	fmt.Println("Type your messages (or 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}
		c.SendChatMessage(*chat, text)
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}

	c.Disconnect()
	log.Println("Disconnected from server")
}
