package easyboot

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FirmwareImage is a contiguous firmware image ready for upload.
type FirmwareImage struct {
	Data []byte
	// BaseAddr is the flash address of Data[0]. It is only meaningful
	// when HasBaseAddr is true; raw binary images carry no address
	// information.
	BaseAddr    uint32
	HasBaseAddr bool
}

// LoadFirmware reads a firmware file into a contiguous image. Files with
// a .hex extension are decoded as Intel HEX; anything else is taken as a
// raw binary image. A file containing no data yields a nil image and a
// nil error, which callers treat as a cancelled upload rather than a
// failure.
func LoadFirmware(path string) (*FirmwareImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read firmware file")
	}
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		return parseIntelHex(raw)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return &FirmwareImage{Data: raw}, nil
}

// Intel HEX record types the decoder acts on. Every other type is
// skipped without error.
const (
	recData       = 0x00
	recEOF        = 0x01
	recExtLinAddr = 0x04
)

// parseIntelHex decodes Intel HEX text into a contiguous image. Data
// records populate a sparse address map; the image spans the minimum to
// the maximum observed address with unwritten gaps filled with 0xFF,
// the erased-flash value. The minimum address becomes the image base.
func parseIntelHex(src []byte) (*FirmwareImage, error) {
	var upper uint32
	data := make(map[uint32]byte)

	lines := strings.Split(string(src), "\n")
	for idx, raw := range lines {
		num := idx + 1
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return nil, &FormatError{Line: num, Msg: "not a valid Intel HEX record"}
		}
		if len(line) < 11 {
			return nil, &FormatError{Line: num, Msg: "record header truncated"}
		}

		count, err := hexField(line[1:3])
		if err != nil {
			return nil, &FormatError{Line: num, Msg: "malformed record header"}
		}
		offset, err := hexField(line[3:7])
		if err != nil {
			return nil, &FormatError{Line: num, Msg: "malformed record header"}
		}
		recType, err := hexField(line[7:9])
		if err != nil {
			return nil, &FormatError{Line: num, Msg: "malformed record header"}
		}
		if len(line) < 11+int(count)*2 {
			return nil, &FormatError{Line: num, Msg: "record data truncated"}
		}

		sum := count + offset>>8 + offset&0xFF + recType
		payload := make([]byte, count)
		for i := range payload {
			b, err := hexField(line[9+i*2 : 11+i*2])
			if err != nil {
				return nil, &FormatError{Line: num, Msg: "malformed data byte"}
			}
			payload[i] = byte(b)
			sum += b
		}
		checksum, err := hexField(line[9+int(count)*2 : 11+int(count)*2])
		if err != nil {
			return nil, &FormatError{Line: num, Msg: "malformed checksum"}
		}
		if ((sum^0xFF)+1)&0xFF != checksum {
			return nil, &FormatError{Line: num, Msg: "checksum mismatch"}
		}

		switch recType {
		case recData:
			abs := upper + offset
			for i, b := range payload {
				data[abs+uint32(i)] = b
			}
		case recEOF:
			return buildImage(data)
		case recExtLinAddr:
			if count != 2 {
				return nil, &FormatError{Line: num, Msg: "extended linear address record must carry 2 bytes"}
			}
			upper = (uint32(payload[0])<<8 | uint32(payload[1])) << 16
		default:
			// Other record types (segment addresses, start addresses)
			// are irrelevant to the image.
		}
	}
	return buildImage(data)
}

// buildImage turns the sparse address map into a contiguous image.
func buildImage(data map[uint32]byte) (*FirmwareImage, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var min, max uint32
	first := true
	for addr := range data {
		if first {
			min, max = addr, addr
			first = false
			continue
		}
		if addr < min {
			min = addr
		}
		if addr > max {
			max = addr
		}
	}

	length := max - min + 1
	image := make([]byte, length)
	for i := range image {
		image[i] = 0xFF
	}
	for addr, b := range data {
		image[addr-min] = b
	}

	if gap := int(length) - len(data); gap > 0 {
		pkgLog.Warnf("hex image spans disjoint regions, %d gap bytes padded with 0xFF", gap)
	}

	return &FirmwareImage{Data: image, BaseAddr: min, HasBaseAddr: true}, nil
}

func hexField(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
