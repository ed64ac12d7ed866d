// Command echoclient is a sample TCP echo client built on znet: connect
// once, then repeatedly send a counting message and print whatever comes
// back.
package main

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/huanggomery/znet"
)

func main() {
	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	addr, err := znet.ParseAddress("127.0.0.1:12345")
	if err != nil {
		log.Fatalf("echoclient: parse address: %v", err)
	}

	client, err := znet.NewClient(addr, sugar)
	if err != nil {
		log.Fatalf("echoclient: construct client: %v", err)
	}
	defer client.Close()

	if err := client.Connect(); err != nil {
		log.Fatalf("echoclient: connect: %v", err)
	}
	client.ArmInactivityTimer(20 * time.Second)

	for i := 1; ; i++ {
		msg := fmt.Sprintf("hello, count = %d", i)
		if err := client.Send([]byte(msg)); err != nil {
			log.Fatalf("echoclient: send failed: %v", err)
		}
		reply, err := client.Recv()
		if err != nil {
			log.Fatalf("echoclient: recv failed: %v", err)
		}
		fmt.Println(string(reply))
		time.Sleep(time.Second)
	}
}
