// chat is the MovieSquad terminal chat client. It dials the transport server
// for the identity given in the environment, bootstraps the conversation list
// over REST, and runs the interactive shell.
package main

import (
	"context"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/moviesquad/messenger/internal/chat"
	"github.com/moviesquad/messenger/internal/protocol"
	"github.com/moviesquad/messenger/internal/receipts"
	"github.com/moviesquad/messenger/internal/rest"
	"github.com/moviesquad/messenger/internal/transport"
	"github.com/moviesquad/messenger/internal/typing"
	"github.com/moviesquad/messenger/internal/ui"
)

func main() {
	wsURL := "ws://localhost:8080/ws"
	if v := os.Getenv("CHAT_WS_URL"); v != "" {
		wsURL = v
	}
	apiURL := "http://localhost:8080"
	if v := os.Getenv("CHAT_API_URL"); v != "" {
		apiURL = v
	}
	userID := os.Getenv("CHAT_USER_ID")
	token := os.Getenv("CHAT_TOKEN")
	username := os.Getenv("CHAT_USERNAME")
	if username == "" {
		username = userID
	}
	if userID == "" || token == "" {
		log.Fatal("CHAT_USER_ID and CHAT_TOKEN must be set")
	}

	// Key events drive the UI; logs would tear the screen apart.
	logFile, err := tea.LogToFile(logPath(), "chat")
	if err == nil {
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	self := protocol.User{ID: userID, Username: username}

	manager := transport.NewManager(wsURL)
	defer manager.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := manager.Connect(ctx, transport.Identity{
		UserID:   userID,
		Username: username,
		Token:    token,
	}, nil)
	cancel()
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("connect: %v", err)
	}

	store := chat.NewStore(self, conn)
	typingCoord := typing.New(conn, typing.DefaultIdleAfter)
	tracker := receipts.New(userID, conn, receipts.DefaultBatchDelay)

	// REST bootstrap: seed the sidebar before the socket snapshot arrives.
	// The conversation_list push replaces this wholesale when it lands.
	restClient := rest.NewClient(apiURL, token)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if convos, err := restClient.Conversations(bootCtx); err != nil {
		log.Printf("[main] rest bootstrap: %v", err)
	} else {
		store.ApplyConversationList(convos)
	}
	bootCancel()

	model := ui.New(ui.Config{
		Self:     self,
		Conn:     conn,
		Store:    store,
		Typing:   typingCoord,
		Receipts: tracker,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("ui: %v", err)
	}
}

// logPath returns the debug log location, overridable for development.
func logPath() string {
	if v := os.Getenv("CHAT_LOG_FILE"); v != "" {
		return v
	}
	return os.TempDir() + "/moviesquad-chat.log"
}
