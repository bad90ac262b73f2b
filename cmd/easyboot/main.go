package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	easyboot "github.com/wsoz-ohb/easy-bootloader"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"gopkg.in/yaml.v2"
)

var commands = map[string]func(easyboot.Transport, []string){
	"queryver":  processQueryVersion,
	"querydate": processQueryDate,
	"trigger":   processTriggerUpgrade,
	"send":      processSend,
}

// Total on-wire frame sizes the device-side bootloader accepts.
var frameSizes = []int{128, 256, 512, 1024}

var parities = map[string]serial.Parity{
	"N": serial.ParityNone,
	"E": serial.ParityEven,
	"O": serial.ParityOdd,
	"M": serial.ParityMark,
	"S": serial.ParitySpace,
}

var stopBits = map[string]serial.StopBits{
	"1":   serial.Stop1,
	"1.5": serial.Stop1Half,
	"2":   serial.Stop2,
}

// uploadProfile mirrors the upload settings that can be kept in a YAML
// profile file. Command line flags override individual fields.
type uploadProfile struct {
	AppBaseAddr string `yaml:"app_base_addr"`
	FrameSize   int    `yaml:"frame_size"`
	Version     uint32 `yaml:"version"`
	Date        string `yaml:"date"`
}

const appVersion = "2.0.1"

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	dataBits := flag.Int("databits", 8, "Data bits (5-8).")
	parity := flag.String("parity", "N", "Parity, one of N, E, O, M, S.")
	stop := flag.String("stopbits", "1", "Stop bits, one of 1, 1.5, 2.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")

	// Format an empty uploadProfile struct in YAML format as an example.
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(uploadProfile{})
	profile := flag.String("profile", "", "Upload profile yaml file. Example:\n\n"+buf.String())

	baseAddr := flag.String("base", "", "Application flash base address, e.g. 0x08010000.")
	frameSize := flag.Int("framesize", 0, fmt.Sprintf("Total frame size, one of %v.", frameSizes))
	fwVersion := flag.String("fwver", "", "Firmware version number carried in the finish frame.")
	date := flag.String("date", "", "Build date carried in the finish frame (YYYY-MM-DD, defaults to today).")

	cmdList := []string{"ports"}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	command := flag.String("cmd", "", fmt.Sprintf("Command to run, one of: %+v\n"+
		"With no command the positional argument is a firmware file (.hex or raw binary) to upload.\n"+
		"send takes hex bytes, e.g. send 01 0A FF",
		cmdList))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	easyboot.SetLogger(log.StandardLogger())

	if *command == "ports" {
		processPorts()
		return
	}

	if *port == "" {
		log.Fatal("must specify port")
	}

	par, ok := parities[*parity]
	if !ok {
		log.Fatalf("invalid parity %v", *parity)
	}
	sb, ok := stopBits[*stop]
	if !ok {
		log.Fatalf("invalid stop bits %v", *stop)
	}
	if *dataBits < 5 || *dataBits > 8 {
		log.Fatalf("invalid data bits %v", *dataBits)
	}

	transport, err := easyboot.OpenSerial(easyboot.SerialConfig{
		Port:     *port,
		Baud:     *baud,
		DataBits: byte(*dataBits),
		Parity:   par,
		StopBits: sb,
	})
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer transport.Close()

	switch {
	case *command != "":
		// Run a single command
		f, ok := commands[*command]
		if !ok {
			log.Fatalf("invalid command %v", *command)
		}
		f(transport, flag.Args())

	default:
		// Upload a firmware file
		if len(flag.Args()) != 1 {
			log.Fatalf("must specify firmware file to upload")
		}

		cfg := buildConfig(*profile, *baseAddr, *frameSize, *fwVersion, *date)

		uploader, err := easyboot.NewUploader(transport, cfg)
		if err != nil {
			log.Fatal(err)
		}
		uploader.OnProgress = func(sent, total, percent int) {
			log.Infof("sent %d/%d bytes (%d%%)", sent, total, percent)
		}
		done := make(chan bool, 1)
		uploader.OnComplete = func(ok bool) { done <- ok }

		// Ctrl-C aborts the attempt instead of tearing the process down
		// mid-frame.
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		go func() {
			<-interrupt
			log.Warn("interrupt received, cancelling upload")
			uploader.Cancel()
		}()

		log.Infof("uploading...")
		if !uploader.Start(flag.Args()[0]) {
			log.Fatal("an upload is already running")
		}
		if ok := <-done; !ok {
			log.Fatal("upgrade failed")
		}
		log.Infof("complete")
	}
}

// buildConfig merges the profile file with flag overrides. Malformed
// numeric values are rejected here, before any session state exists.
func buildConfig(profilePath, baseAddr string, frameSize int, fwVersion, date string) easyboot.UploaderConfig {
	prof := new(uploadProfile)
	if profilePath != "" {
		f, err := os.ReadFile(profilePath)
		if err != nil {
			log.Fatalf("failed to open profile file: %v", err)
		}
		if err := yaml.Unmarshal(f, prof); err != nil {
			log.Fatalf("failed to parse profile file: %v", err)
		}
	}

	if baseAddr == "" {
		baseAddr = prof.AppBaseAddr
	}
	if frameSize == 0 {
		frameSize = prof.FrameSize
	}
	if date == "" {
		date = prof.Date
	}

	cfg := easyboot.UploaderConfig{Version: prof.Version}

	if baseAddr != "" {
		v, err := strconv.ParseUint(baseAddr, 0, 32)
		if err != nil {
			log.Fatalf("invalid base address %q: %v", baseAddr, err)
		}
		cfg.AppBaseAddr = uint32(v)
	}

	if frameSize != 0 {
		valid := false
		for _, size := range frameSizes {
			if frameSize == size {
				valid = true
				break
			}
		}
		if !valid {
			log.Fatalf("invalid frame size %d, must be one of %v", frameSize, frameSizes)
		}
		cfg.FrameSize = frameSize
	}

	if fwVersion != "" {
		v, err := strconv.ParseUint(fwVersion, 0, 32)
		if err != nil {
			log.Fatalf("invalid firmware version %q: %v", fwVersion, err)
		}
		cfg.Version = uint32(v)
	}

	if date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			log.Fatalf("invalid date %q, expected YYYY-MM-DD: %v", date, err)
		}
		cfg.Date = easyboot.EncodeDate(d)
	}

	return cfg
}
