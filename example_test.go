package easyboot

import (
	"log"
)

func Example() {
	// First open the serial link to the device
	transport, err := OpenSerial(SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200})
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer transport.Close()

	// Configure the upload; zero fields pick the device defaults
	uploader, err := NewUploader(transport, UploaderConfig{
		Version: 2,
	})
	if err != nil {
		log.Fatal(err)
	}

	uploader.OnProgress = func(sent, total, percent int) {
		log.Printf("sent %d/%d bytes (%d%%)", sent, total, percent)
	}
	done := make(chan bool, 1)
	uploader.OnComplete = func(ok bool) { done <- ok }

	log.Print("uploading...")
	if !uploader.Start("firmware.hex") {
		log.Fatal("an upload is already running")
	}
	if ok := <-done; !ok {
		log.Fatal("upgrade failed")
	}
	log.Print("upgrade complete")
}
