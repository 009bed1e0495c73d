package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/calliope-voice/calliope/gemini"
)

func main() {
	prompt := flag.String("prompt", "Say hi back in one sentence.", "prompt to send")
	grounding := flag.Bool("grounding", false, "enable web grounding")
	model := flag.String("model", gemini.DefaultTextModel, "text model to use")
	flag.Parse()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	generator, err := gemini.NewGenerator(ctx, apiKey, *model)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}

	result, err := generator.Generate(ctx, gemini.GenerateRequest{
		Prompt:       *prompt,
		WebGrounding: *grounding,
	})
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	log.Printf("💬 %s", result.Text)
	for _, link := range result.SourceLinks {
		log.Printf("🔗 %s (%s)", link.Title, link.URL)
	}
}
