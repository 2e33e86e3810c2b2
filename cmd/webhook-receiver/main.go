// Command webhook-receiver is a local sink for security event webhooks.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/rryowa/sessionguard/internal/models"
	"github.com/rryowa/sessionguard/internal/util"
)

const defaultReceiverAddr = ":9090"

func main() {
	logger := util.NewZapLogger()
	defer func() { _ = logger.Sync() }()

	addr := os.Getenv("WEBHOOK_RECEIVER_ADDRESS")
	if addr == "" {
		addr = defaultReceiverAddr
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Only POST method is accepted", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		var event models.SecurityEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "Error parsing JSON", http.StatusBadRequest)
			return
		}

		logger.Infow("Received security event",
			"type", event.Type,
			"subject", event.Subject,
			"familyID", event.FamilyID,
			"jti", event.CredID,
			"oldIPHint", event.OldIPHint,
			"newIPHint", event.NewIPHint,
			"revoked", event.Revoked,
			"occurredAt", event.OccurredAt,
		)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Webhook received!"))
	})

	logger.Infof("Webhook receiver listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
