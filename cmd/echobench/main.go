// Command echobench load-tests an echo server: N independent clients each
// hammer the target with random echo round-trips for a fixed duration, and
// sent/acknowledged totals are aggregated over atomic counters at the end.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/huanggomery/znet"
)

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz!@#$%^&*()_+{}[]|;:,.<>?"

func randomString(minLen, maxLen int) string {
	n := minLen + rand.Intn(maxLen-minLen+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func runClient(addr znet.Address, duration time.Duration, sent, acked *atomic.Int64, log *zap.SugaredLogger) {
	client, err := znet.NewClient(addr, log)
	if err != nil {
		return
	}
	defer client.Close()

	msg := randomString(1, 50)
	client.SetOnConnect(func(conn *znet.Connection) {
		znet.Put(conn.Context(), "msg_send", msg)

		conn.SetOnMessage(func(c *znet.Connection) {
			sentMsg, _ := znet.Get[string](c.Context(), "msg_send")
			recvMsg := c.Inbound().String()
			c.Inbound().Clear()
			if recvMsg == sentMsg {
				acked.Add(1)
			}
			next := randomString(1, 50)
			znet.Put(c.Context(), "msg_send", next)
			c.Send([]byte(next))
		})
		conn.SetOnWriteComplete(func(c *znet.Connection) {
			sent.Add(1)
			c.WaitForMessage()
		})
		conn.SetOnClose(func(c *znet.Connection) {
			client.Stop()
		})

		conn.Send([]byte(msg))
	})

	time.AfterFunc(duration, func() {
		if conn := client.Conn(); conn != nil {
			conn.Close()
		}
		client.Stop()
	})

	if err := client.Start(); err != nil {
		return
	}
}

func main() {
	var (
		seconds = flag.Int("t", 0, "running time in seconds")
		clients = flag.Int("c", 0, "number of clients")
		addrStr = flag.String("s", "", "server address, e.g. 127.0.0.1:12345")
	)
	flag.Parse()

	if *seconds == 0 || *clients == 0 || *addrStr == "" {
		flag.Usage()
		log.Fatal("echobench: -t, -c and -s are all required")
	}

	addr, err := znet.ParseAddress(*addrStr)
	if err != nil {
		log.Fatalf("echobench: parse address: %v", err)
	}

	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	var sent, acked atomic.Int64
	var wg sync.WaitGroup
	duration := time.Duration(*seconds) * time.Second

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(addr, duration, &sent, &acked, sugar)
		}()
	}
	wg.Wait()

	fmt.Println("send message:   ", sent.Load())
	fmt.Println("success message:", acked.Load())
}
