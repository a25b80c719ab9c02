// Command mockupstream is a local OpenAI-compatible upstream for exercising
// the gateway without real provider credentials. It echoes the last user
// message, as a single completion or word by word over SSE.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/G4FproAPI/Astra-OSS/internal/auth"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/static"
)

func main() {
	addr := os.Getenv("MOCK_ADDR")
	if addr == "" {
		addr = ":9000"
	}

	log.Printf("Mock upstream starting on %s", addr)
	if err := http.ListenAndServe(addr, newRouter(os.Getenv("MOCK_API_KEY"), 0)); err != nil {
		log.Fatal(err)
	}
}

// newRouter serves /v1/chat/completions. When apiKey is set, requests must
// present it as a bearer token. delay is slept between streamed chunks.
func newRouter(apiKey string, delay time.Duration) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, req *http.Request) {
		if apiKey != "" {
			token, err := auth.ParseBearer(req.Header.Get("Authorization"))
			if err != nil || token != apiKey {
				http.Error(w, `{"error":{"message":"bad upstream key"}}`, http.StatusUnauthorized)
				return
			}
		}

		var body models.ChatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":{"message":"malformed body"}}`, http.StatusBadRequest)
			return
		}
		reply := echo(body)
		id := models.NewCompletionID()
		log.Printf("Received request: model=%s stream=%t", body.Model, body.Stream)

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(models.NewChatCompletion(id, body.Model, reply, time.Now()))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher, _ := w.(http.Flusher)
		for _, chunk := range static.Chunks(reply) {
			data, _ := json.Marshal(models.NewChatChunk(id, body.Model, chunk, time.Now()))
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
			if delay > 0 {
				time.Sleep(delay)
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}).Methods(http.MethodPost)
	return r
}

func echo(body models.ChatRequest) string {
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if body.Messages[i].Role == "user" {
			return "echo: " + body.Messages[i].Text()
		}
	}
	return "echo: (no user message)"
}
