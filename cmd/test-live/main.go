package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/calliope-voice/calliope/gemini"
)

// Smoke test for the live transport: opens a session, sends one text
// turn, and logs everything the model streams back. No audio devices
// are touched.
func main() {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	live, err := gemini.NewLive(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to create live transport: %v", err)
	}
	defer live.Close()

	done := make(chan struct{})
	live.OnMessage = func(msg gemini.ServerMessage) {
		if len(msg.Audio) > 0 {
			log.Printf("🔊 Received audio: %d bytes", len(msg.Audio))
		}
		if msg.OutputTranscript != "" {
			log.Printf("💬 Model: %s", msg.OutputTranscript)
		}
		if msg.Interrupted {
			log.Println("✋ Interrupted")
		}
		if msg.TurnComplete {
			log.Println("✅ Turn complete")
			select {
			case <-done:
			default:
				close(done)
			}
		}
	}
	live.OnError = func(err error) {
		log.Printf("❌ Error: %v", err)
	}
	live.OnClose = func(clean bool, code string) {
		log.Printf("🔌 Closed (clean=%v, code=%s)", clean, code)
	}

	err = live.Connect(ctx, gemini.LiveConfig{
		Model:               gemini.DefaultLiveModel,
		Voice:               "Zephyr",
		SystemInstruction:   "You are a helpful assistant. Keep responses brief.",
		OutputTranscription: true,
	})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	live.StartReceiving(ctx)

	if err := live.SendText("Hello! Say hi back in one sentence."); err != nil {
		log.Fatalf("Failed to send text: %v", err)
	}

	log.Println("Waiting for response...")
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("⚠️ Timed out waiting for turn completion")
	}
	log.Println("Done")
}
