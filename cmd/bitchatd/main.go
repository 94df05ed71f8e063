// Command bitchatd is the daemon entry point: it loads the environment
// configuration, builds the transport named by TRANSPORT/ROLE, wires the
// AEAD and fragment layers into a messenger.Service, starts the control
// socket, and blocks until QUIT or a termination signal.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fuchengh/bitchat-clone/config"
	"github.com/fuchengh/bitchat-clone/ipc"
	"github.com/fuchengh/bitchat-clone/logger"
	"github.com/fuchengh/bitchat-clone/messenger"
	"github.com/fuchengh/bitchat-clone/transport"
	"github.com/fuchengh/bitchat-clone/transport/ble"
	"github.com/fuchengh/bitchat-clone/transport/loopback"
)

const (
	defaultServiceUUID = "7e0f8f20-cc0b-4c6e-8a3e-5d21b2f8a9c4"
	defaultTxCharUUID  = "7e0f8f21-cc0b-4c6e-8a3e-5d21b2f8a9c4"
	defaultRxCharUUID  = "7e0f8f22-cc0b-4c6e-8a3e-5d21b2f8a9c4"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("bitchatd", "starting, instance=%s role=%s transport=%s", logger.InstanceID(), cfg.Role, cfg.Transport)

	var t transport.Transport
	switch cfg.Transport {
	case "bluez":
		if cfg.Role == transport.RoleCentral {
			t = ble.NewCentral(cfg.Adapter)
		} else {
			t = ble.NewPeripheral(cfg.Adapter)
		}
	default:
		t = loopback.New()
	}

	svc := messenger.New(t, messenger.Config{
		IsCentral:    cfg.Role == transport.RoleCentral,
		UserID:       cfg.UserID,
		PSK:          cfg.PSK,
		HasPSK:       cfg.HasPSK,
		HelloEnabled: cfg.CtrlHello,
		Sink: func(plaintext []byte) {
			logger.Info("recv", "%s", string(plaintext))
		},
	})

	settings := transport.Settings{
		Role:        cfg.Role,
		Adapter:     cfg.Adapter,
		ServiceUUID: defaultServiceUUID,
		TxCharUUID:  defaultTxCharUUID,
		RxCharUUID:  defaultRxCharUUID,
		PeerAddress: cfg.Peer,
		MTUPayload:  cfg.MTUPayload,
	}

	if !svc.Start(settings) {
		logger.Error("bitchatd", "failed to start transport %q", cfg.Transport)
		os.Exit(1)
	}
	defer svc.Stop()

	quit := make(chan struct{})
	central, isCentral := t.(*ble.Central)

	handlers := ipc.Handlers{
		Send: func(text string) bool {
			return svc.SendText([]byte(text))
		},
		SetTail: svc.SetTail,
		Peers: func() []string {
			peers := svc.Peers(cfg.KeepZeroRSSI)
			now := time.Now().UnixMilli()
			lines := make([]string, 0, len(peers))
			for _, p := range peers {
				age := now - p.LastSeen
				lines = append(lines, p.Address+" rssi="+strconv.Itoa(int(p.RSSI))+" age_ms="+strconv.FormatInt(age, 10))
			}
			return lines
		},
		Quit: func() { close(quit) },
	}
	if isCentral {
		handlers.Connect = func(address string) bool {
			central.HandoverTo(address)
			return true
		}
		handlers.Disconnect = func() {
			central.HandoverTo("")
		}
	}
	server := ipc.New(cfg.CtlSock, handlers)

	if err := server.Start(); err != nil {
		logger.Error("bitchatd", "ipc server: %v", err)
		os.Exit(1)
	}
	defer server.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("bitchatd", "shutting down on QUIT")
	case sig := <-sigCh:
		logger.Info("bitchatd", "shutting down on signal %v", sig)
	}
}
