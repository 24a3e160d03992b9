// cmd/tokengen/main.go prints a bearer token for the messaging front-end.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
	"github.com/SinaHo/referral-gate-backend/internal/config"
	"github.com/SinaHo/referral-gate-backend/internal/logger"
)

func main() {
	log, err := logger.NewSugar("info", "json")
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer log.Sync()

	cfg, err := config.LoadConfig("internal/config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	subject := "frontend"
	if len(os.Args) > 1 {
		subject = os.Args[1]
	}
	// Front-end tokens are long-lived; rotate by changing jwt.signing_key.
	token, err := auth.IssueToken([]byte(cfg.JWT.SigningKey), subject, auth.RoleFrontend, 365*24*time.Hour)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}
