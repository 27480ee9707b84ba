package commsutil

import (
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect(ConnectParams{URL: "invalid://not-a-nats-server", Name: "test-client", Timeout: time.Second})
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestConnect_InProcessServer(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}

	nc, err := Connect(ConnectParams{URL: ns.ClientURL(), Name: "approuter-test"})
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	if !nc.IsConnected() {
		t.Errorf("%s - expected connected client", connectTestPrefix)
	}
}

func TestConnectParams_Defaults(t *testing.T) {
	p := ConnectParams{}.withDefaults()
	if p.Timeout != 10*time.Second || p.ReconnectWait != 2*time.Second || p.MaxReconnects != 60 {
		t.Errorf("%s - unexpected defaults %+v", connectTestPrefix, p)
	}
	p = ConnectParams{MaxReconnects: -1}.withDefaults()
	if p.MaxReconnects != -1 {
		t.Errorf("%s - explicit -1 (reconnect forever) must be kept", connectTestPrefix)
	}
}
