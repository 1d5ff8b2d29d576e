package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/chaz8081/sparkctl/internal/ble/protocol"
)

var (
	flgAddr = cli.StringFlag{Name: "addr, a", Usage: "address of the amp; skips scanning"}

	errNoMessage = errors.New("no message given")
	errNoHex     = errors.New("no hex block given")
)

func encode(c *cli.Context) error {
	msg, err := parseRequest(c.Args())
	if err != nil {
		return err
	}
	blocks, err := protocol.NewEncoder().Encode(msg)
	if err != nil {
		return errors.Wrap(err, "can't encode")
	}
	fmt.Printf("%s (%s), %d block(s)\n", protocol.Describe(msg), msg.Opcode(), len(blocks))
	for _, b := range blocks {
		fmt.Printf("% X\n", b)
	}
	return nil
}

// parseRequest maps command-line words onto a request.
func parseRequest(args cli.Args) (protocol.AppToDeviceMsg, error) {
	switch args.First() {
	case "":
		return nil, errNoMessage
	case "amp-name":
		return protocol.GetAmpName{}, nil
	case "serial":
		return protocol.GetSerialNumber{}, nil
	case "get-preset":
		return protocol.GetHardwarePreset{}, nil
	case "set-preset":
		n, err := strconv.ParseUint(args.Get(1), 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid preset %q", args.Get(1))
		}
		return protocol.SetHardwarePreset{Preset: uint8(n)}, nil
	}
	return nil, errors.Errorf("unknown message %q", args.First())
}

func decode(c *cli.Context) error {
	if c.NArg() == 0 {
		return errNoHex
	}
	b, err := parseHex(strings.Join(c.Args(), ""))
	if err != nil {
		return err
	}

	dir := protocol.DirFromDevice
	if c.Bool("to-device") {
		dir = protocol.DirToDevice
	}
	f, err := protocol.ParseBlock(b, dir)
	if err != nil {
		return errors.Wrap(err, "can't parse block")
	}
	fmt.Printf("direction: %s\n", f.Direction)
	fmt.Printf("sequence:  %d\n", f.Sequence)
	fmt.Printf("checksum:  0x%02X\n", f.Checksum)
	fmt.Printf("opcode:    %s\n", f.Opcode)
	fmt.Printf("payload:   % X\n", f.Payload())

	if dir != protocol.DirFromDevice {
		return nil
	}
	msg, err := protocol.Decoder{}.DecodeBlock(b)
	if err != nil {
		fmt.Printf("message:   none (%v)\n", err)
		return nil
	}
	fmt.Printf("message:   %+v\n", msg)
	return nil
}

// parseHex accepts hex with optional spaces, colons or a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex")
	}
	return b, nil
}
