package responder

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/warrenwl/chatrelay/internal/config"
	"github.com/warrenwl/chatrelay/internal/model/chat"
)

const systemPrompt = "You are a friendly support assistant chatting with a website visitor. " +
	"Answer concisely and stay on topic."

// Model produces replies from an in-process chat model instead of a brain
// endpoint. Same contract as HTTP: a string always comes back, the apology
// on any failure.
type Model struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewModel compiles the prompt and model chain from the Ark configuration.
func NewModel(ctx context.Context, cfg config.AIConfig) (*Model, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Model{chain: runnable}, nil
}

func (m *Model) Reply(ctx context.Context, sessionID, message string, history []chat.Message, metadata map[string]any) string {
	response, err := m.chain.Invoke(ctx, map[string]any{
		"system":  systemPrompt,
		"history": historyMessages(history),
		"query":   message,
	})
	if err != nil {
		log.Printf("[responder] model call failed for session=%s: %v", sessionID, err)
		return Apology
	}
	return response.Content
}

// historyMessages maps persisted turns onto model roles. System markers such
// as the closing notice carry no conversational content and are skipped.
func historyMessages(history []chat.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Sender {
		case chat.SenderUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.SenderBot:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return messages
}
