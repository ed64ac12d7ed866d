// Command echoserver is a sample TCP echo server built on znet: each
// connection gets a 10-second inactivity timer that shuts it down if no
// message arrives, and every received message is echoed straight back.
package main

import (
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/huanggomery/znet"
	"github.com/huanggomery/znet/alog"
)

const inactivityTimeout = 10 * time.Second

func main() {
	alogger, err := alog.New(alog.Config{
		Dir:               "../logs",
		Basename:          "echo_server",
		MaxRecordsPerFile: 5_000_000,
		FlushInterval:     time.Second,
		MaxSlabs:          25,
	})
	if err != nil {
		log.Fatalf("echoserver: init log: %v", err)
	}
	defer alogger.Close()

	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	addr, err := znet.ParseAddress("127.0.0.1:12345")
	if err != nil {
		log.Fatalf("echoserver: parse address: %v", err)
	}

	server, err := znet.NewServer(addr, 4, sugar)
	if err != nil {
		log.Fatalf("echoserver: construct server: %v", err)
	}

	server.SetOnConnect(func(conn *znet.Connection) {
		znet.Put(conn.Context(), "data_buffer", "")
		conn.Timers().Add("clear_inactive_connection", inactivityTimeout, func() {
			sugar.Infow("disconnecting inactive connection", "peer", conn.Peer())
			conn.Shutdown()
		}, false)
		conn.WaitForMessage()
	})

	server.SetOnMessage(func(conn *znet.Connection) {
		conn.Timers().Reset("clear_inactive_connection")

		msg := conn.Inbound().String()
		conn.Inbound().Clear()

		if buf, ok := znet.Get[string](conn.Context(), "data_buffer"); ok {
			znet.Put(conn.Context(), "data_buffer", buf+msg)
		}
		conn.Send([]byte(msg))
	})

	server.SetOnWriteComplete(func(conn *znet.Connection) {
		conn.WaitForMessage()
	})

	alogger.Infof("echo server listening on %s", server.Addr())
	if err := server.Start(); err != nil {
		log.Fatalf("echoserver: %v", err)
	}
}
