package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	easyboot "github.com/wsoz-ohb/easy-bootloader"

	log "github.com/sirupsen/logrus"
	bserial "go.bug.st/serial"
)

func processPorts() {
	ports, err := bserial.GetPortsList()
	if err != nil {
		log.Fatalf("failed to enumerate serial ports: %v", err)
	}
	if len(ports) == 0 {
		log.Info("no serial ports found")
		return
	}
	for _, port := range ports {
		fmt.Println(port)
	}
}

func processQueryVersion(transport easyboot.Transport, args []string) {
	sendAndDump(transport, easyboot.QueryVersionCmd)
}

func processQueryDate(transport easyboot.Transport, args []string) {
	sendAndDump(transport, easyboot.QueryDateCmd)
}

func processTriggerUpgrade(transport easyboot.Transport, args []string) {
	sendAndDump(transport, easyboot.TriggerUpgradeCmd)
}

func processSend(transport easyboot.Transport, args []string) {
	if len(args) == 0 {
		log.Fatal("expected: hex bytes, e.g. send 01 0A FF")
	}
	data, err := parseHexBytes(strings.Join(args, " "))
	if err != nil {
		log.Fatalf("invalid hex data: %v", err)
	}
	sendAndDump(transport, data)
}

// sendAndDump writes a frame, collects whatever the device answers for a
// short window and hex-dumps it.
func sendAndDump(transport easyboot.Transport, frame []byte) {
	var mu sync.Mutex
	var resp []byte
	id := transport.Subscribe(func(data []byte) {
		mu.Lock()
		resp = append(resp, data...)
		mu.Unlock()
	})
	defer transport.Unsubscribe(id)

	log.Debugf("sending % X", frame)
	if err := transport.Write(frame); err != nil {
		log.Fatalf("write failed: %v", err)
	}
	time.Sleep(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(resp) == 0 {
		log.Info("no response")
		return
	}
	fmt.Print(hex.Dump(resp))
}

// parseHexBytes accepts whitespace or comma separated hex byte tokens,
// e.g. "01 0A FF" or "01,0a,ff".
func parseHexBytes(text string) ([]byte, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", " ")
	if cleaned == "" {
		return nil, nil
	}
	var data []byte
	for _, tok := range strings.Fields(cleaned) {
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad byte %q", tok)
		}
		data = append(data, byte(b))
	}
	return data, nil
}
