package keys

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"dcarunner/src/connectors"
	"dcarunner/src/database"
	"dcarunner/src/model"
	"dcarunner/src/repository"
	"dcarunner/src/security"
)

func printUsage() {
	fmt.Println("Available commands:")
	fmt.Println("  help                             Show this help message")
	fmt.Println("  shutdown                         Exit the application")
	fmt.Println("  generate_key                     Print a fresh key for EXCHANGE_CREDENTIALS_KEY")
	fmt.Println("  set_key <user_id> <exchange> <key> <secret> [environment]")
	fmt.Println("                                   Store encrypted API credentials")
	fmt.Println("  test_key <user_id> <exchange>    Run a connectivity test and record the result")
	fmt.Println("  disable <user_id> <exchange>     Disable a stored connection")
	fmt.Println()
}

// Keys is the interactive credential management CLI. Credentials are
// encrypted before they touch the database and never echoed back.
type Keys struct{}

func (k *Keys) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		return err
	}

	connectionRep := repository.NewConnectionRepository()

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("cmd> ")

		if !reader.Scan() {
			return nil
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {

		case "shutdown":
			fmt.Println("Exiting CLI...")
			return nil

		case "help":
			printUsage()

		case "generate_key":
			key, err := security.GenerateKey()
			if err != nil {
				logger.WithError(err).Error("Failed to generate key")
				continue
			}
			fmt.Println(key)

		case "set_key":
			if len(parts) < 5 {
				printUsage()
				continue
			}
			userID, exchange, apiKey, apiSecret := parts[1], parts[2], parts[3], parts[4]
			environment := model.EnvProduction
			if len(parts) > 5 {
				environment = parts[5]
			}

			uid, err := strconv.ParseUint(userID, 10, 32)
			if err != nil {
				logger.WithError(err).Error("user_id must be a number")
				continue
			}

			blob, err := json.Marshal(map[string]string{
				"api_key":    apiKey,
				"api_secret": apiSecret,
			})
			if err != nil {
				logger.WithError(err).Error("Failed to encode credentials")
				continue
			}
			encrypted, err := security.EncryptString(string(blob))
			if err != nil {
				logger.WithError(err).Error("Failed to encrypt credentials")
				continue
			}

			conn := &model.ExchangeConnection{
				UserID:          uint(uid),
				Exchange:        strings.ToLower(exchange),
				EncryptedConfig: encrypted,
				Environment:     environment,
			}
			if err := connectionRep.Upsert(ctx, conn); err != nil {
				logger.WithError(err).Error("Failed to store connection")
				continue
			}
			fmt.Printf("Stored %s credentials for user %s\n", exchange, userID)

		case "test_key":
			if len(parts) < 3 {
				printUsage()
				continue
			}
			userID, exchange := parts[1], parts[2]

			uid, err := strconv.ParseUint(userID, 10, 32)
			if err != nil {
				logger.WithError(err).Error("user_id must be a number")
				continue
			}

			conn, err := connectionRep.GetActive(ctx, uint(uid), strings.ToLower(exchange))
			if err != nil {
				logger.WithError(err).Error("Failed to load connection")
				continue
			}
			if conn == nil {
				fmt.Printf("No active %s connection for user %s\n", exchange, userID)
				continue
			}

			plaintext, err := security.DecryptString(conn.EncryptedConfig)
			if err != nil {
				logger.WithError(err).Error("Failed to decrypt credentials")
				continue
			}
			creds, err := connectors.DecodeCredentials(conn.Exchange, conn.Environment, []byte(plaintext))
			if err != nil {
				logger.WithError(err).Error("Invalid credential payload")
				continue
			}

			started := time.Now()
			testErr := creds.Connector().TestConnection(ctx)
			latency := time.Since(started)

			status := "ok"
			if testErr != nil {
				status = "fail"
				fmt.Printf("Connection test failed after %s: %s\n",
					latency.Round(time.Millisecond), connectors.Redact(testErr.Error()))
			} else {
				fmt.Printf("Connection test ok, %s\n", latency.Round(time.Millisecond))
			}
			if err := connectionRep.UpdateTestStatus(ctx, conn.ID, status); err != nil {
				logger.WithError(err).Error("Failed to record test status")
			}

		case "disable":
			if len(parts) < 3 {
				printUsage()
				continue
			}
			userID, exchange := parts[1], parts[2]

			uid, err := strconv.ParseUint(userID, 10, 32)
			if err != nil {
				logger.WithError(err).Error("user_id must be a number")
				continue
			}

			conn, err := connectionRep.GetActive(ctx, uint(uid), strings.ToLower(exchange))
			if err != nil {
				logger.WithError(err).Error("Failed to load connection")
				continue
			}
			if conn == nil {
				fmt.Printf("No active %s connection for user %s\n", exchange, userID)
				continue
			}

			if err := connectionRep.Disable(ctx, conn.ID); err != nil {
				logger.WithError(err).Error("Failed to disable connection")
				continue
			}
			fmt.Printf("Disabled %s connection for user %s\n", exchange, userID)

		default:
			fmt.Println("Unknown command:", cmd)
			printUsage()
		}
	}
}
