package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	chatsCmd.Flags().Int("page", 1, "page to fetch (newest first)")
	rootCmd.AddCommand(chatsCmd)
	sendCmd.Flags().String("chat", "", "chat id to send to")
	sendCmd.MarkFlagRequired("chat")
	rootCmd.AddCommand(sendCmd)
	messagesCmd.Flags().Int("page", 1, "page to fetch (newest first)")
	rootCmd.AddCommand(messagesCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List the viewer's chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		page, _ := cmd.Flags().GetInt("page")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chats, err := client.ListChats(ctx, page)
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range chats {
			preview := ""
			if c.LastMessage != nil {
				preview = truncate(c.LastMessage.Content, 40)
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Printf("%-24s %s%s\n", c.ID, c.Title, unread)
			if preview != "" {
				fmt.Printf("%-24s   %s\n", "", preview)
			}
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "List a chat's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		page, _ := cmd.Flags().GetInt("page")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.ListMessages(ctx, args[0], page)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		for _, m := range msgs {
			body := m.Content
			if m.Deleted {
				body = "(deleted)"
			}
			edited := ""
			if m.Edited {
				edited = " (edited)"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, body, edited)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Send a message to a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		chatID, _ := cmd.Flags().GetString("chat")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg, err := client.SendMessage(ctx, chatID, args[0], "")
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}
