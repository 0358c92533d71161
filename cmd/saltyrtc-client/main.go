// Command saltyrtc-client is a minimal demo client wiring transport to the
// signaling core: it dials a server, feeds every inbound frame to
// Signaling.HandleMessage, and writes back whatever frames come out. It
// does not implement a task layer. Its loop stops once signaling reaches
// the Task state, but the signaling core never moves past PeerHandshake,
// so the loop ends only on an error or cancellation.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvsouth/saltyrtc-go/primitives"
	"github.com/cvsouth/saltyrtc-go/signaling"
	"github.com/cvsouth/saltyrtc-go/transport"
)

func main() {
	role := flag.String("role", "", "client role: initiator or responder")
	server := flag.String("server", "localhost:8765", "signaling server host:port")
	initiatorKeyHex := flag.String("initiator-key", "", "initiator's permanent public key, hex (responder only)")
	authTokenHex := flag.String("auth-token", "", "one-shot auth token, hex (responder only, optional)")
	insecure := flag.Bool("insecure", false, "connect over ws:// instead of wss://")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := setupLogging(*verbose)

	permanentKey, err := primitives.NewKeyStore()
	if err != nil {
		fmt.Printf("generate permanent keypair: %v\n", err)
		os.Exit(1)
	}

	var sig signaling.Signaling
	var path string
	switch *role {
	case "initiator":
		s, err := signaling.NewInitiator(permanentKey, logger)
		if err != nil {
			fmt.Printf("create initiator signaling: %v\n", err)
			os.Exit(1)
		}
		sig = s
		pub := permanentKey.PublicKey()
		path = hex.EncodeToString(pub[:])
	case "responder":
		initiatorKey, authToken, err := parseResponderFlags(*initiatorKeyHex, *authTokenHex)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		s, err := signaling.NewResponder(permanentKey, initiatorKey, authToken, logger)
		if err != nil {
			fmt.Printf("create responder signaling: %v\n", err)
			os.Exit(1)
		}
		sig = s
		path = hex.EncodeToString(initiatorKey[:])
	default:
		fmt.Println("must pass -role=initiator or -role=responder")
		os.Exit(1)
	}

	scheme := "wss"
	if *insecure {
		scheme = "ws"
	}
	url := fmt.Sprintf("%s://%s/%s", scheme, *server, path)

	fmt.Printf("=== SaltyRTC Client (%s) ===\n", *role)
	fmt.Printf("server: %s\n", url)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Dial(ctx, url, signaling.Subprotocol, logger)
	if err != nil {
		fmt.Printf("connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := runSignaling(ctx, conn, sig, logger); err != nil {
		fmt.Printf("signaling failed: %v\n", err)
		os.Exit(1)
	}
}

// runSignaling drives frames between conn and sig until State reaches Task
// or an error/cancellation occurs. The signaling core never sets Task, so
// only an error or cancellation ends it.
func runSignaling(ctx context.Context, conn *transport.Conn, sig signaling.Signaling, logger *slog.Logger) error {
	for sig.State() != signaling.StateTask {
		frame, err := conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		replies, err := sig.HandleMessage(frame)
		if err != nil {
			_ = conn.CloseError(err.Error())
			return fmt.Errorf("handle message: %w", err)
		}
		for _, reply := range replies {
			if err := conn.Send(ctx, reply); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
		logger.Debug("signaling progress", "state", sig.State())
	}
	fmt.Println("peer handshake complete; handing off to task layer (not implemented by this client)")
	return nil
}

func parseResponderFlags(initiatorKeyHex, authTokenHex string) (primitives.PublicKey, *primitives.AuthToken, error) {
	var initiatorKey primitives.PublicKey
	if initiatorKeyHex == "" {
		return initiatorKey, nil, fmt.Errorf("-initiator-key is required for -role=responder")
	}
	keyBytes, err := hex.DecodeString(initiatorKeyHex)
	if err != nil || len(keyBytes) != 32 {
		return initiatorKey, nil, fmt.Errorf("-initiator-key must be 32 bytes of hex")
	}
	copy(initiatorKey[:], keyBytes)

	var authToken *primitives.AuthToken
	if authTokenHex != "" {
		tokenBytes, err := hex.DecodeString(authTokenHex)
		if err != nil || len(tokenBytes) != 32 {
			return initiatorKey, nil, fmt.Errorf("-auth-token must be 32 bytes of hex")
		}
		var secret [32]byte
		copy(secret[:], tokenBytes)
		authToken = primitives.AuthTokenFromBytes(secret)
	}
	return initiatorKey, authToken, nil
}

func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
