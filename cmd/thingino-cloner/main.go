// Thingino Cloner: a host-side tool for reprogramming Ingenic XBurst SoCs
// over USB.
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"thingino-cloner/internal/boot"
	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/pkg/cloner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "thingino-cloner: ", log.LstdFlags)

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(logger, os.Args[2:])
	case "bootstrap":
		err = runBootstrap(logger, os.Args[2:])
	case "read":
		err = runRead(logger, os.Args[2:])
	case "write":
		err = runWrite(logger, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "thingino-cloner:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: thingino-cloner <command> [flags]

commands:
  list       enumerate attached Ingenic devices
  bootstrap  run the DDR/SPL/U-Boot load-and-execute pipeline
  read       bootstrap then read 16 MiB of SPI-NOR flash to a file
  write      bootstrap then write a file to SPI-NOR flash`)
}

// hexUint32 parses a hex string, with or without a 0x prefix, into a
// uint32.
func hexUint32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	return uint32(v), nil
}

// bootstrapFlags are the flags every subcommand that runs bootstrap
// shares (spec.md §6 command surface).
type bootstrapFlags struct {
	device       *int
	ddrPath      *string
	splPath      *string
	ubootPath    *string
	skipDDR      *bool
	stage2Addr   *string
	variant      *string
	chipID       *string
	ddrProcessor *string
	ddrChip      *string
}

func registerBootstrapFlags(fs *flag.FlagSet) *bootstrapFlags {
	return &bootstrapFlags{
		device:       fs.Int("device", 0, "index into `list` output of the device to target"),
		ddrPath:      fs.String("ddr", "", "path to a custom DDR configuration binary"),
		splPath:      fs.String("spl", "", "path to a custom SPL bootloader binary"),
		ubootPath:    fs.String("uboot", "", "path to a custom U-Boot image"),
		skipDDR:      fs.Bool("skip-ddr", false, "omit the DDR configuration load step"),
		stage2Addr:   fs.String("stage2-addr", "", "override the U-Boot load/execute address (hex)"),
		variant:      fs.String("variant", "", "pin the device variant instead of auto-detecting it"),
		chipID:       fs.String("chip-id", "0", "flash chip ID written into the flash descriptor and partition marker (0x-prefixed hex or decimal)"),
		ddrProcessor: fs.String("ddr-processor", "", "processor name to build a DDR config from when -ddr is omitted"),
		ddrChip:      fs.String("ddr-chip", "", "chip name paired with -ddr-processor"),
	}
}

func (f *bootstrapFlags) options() (cloner.Options, error) {
	opts := cloner.Options{SkipDDR: *f.skipDDR}

	if *f.stage2Addr != "" {
		addr, err := hexUint32(*f.stage2Addr)
		if err != nil {
			return opts, err
		}
		opts.UBootAddress = addr
	}
	if *f.variant != "" {
		opts.ForceVariant = ident.ParseVariant(*f.variant)
		if opts.ForceVariant == ident.VariantUnknown {
			return opts, fmt.Errorf("unrecognized -variant %q", *f.variant)
		}
	}
	if *f.chipID != "" {
		id, err := strconv.ParseUint(strings.ToLower(*f.chipID), 0, 16)
		if err != nil {
			return opts, fmt.Errorf("invalid -chip-id %q: %w", *f.chipID, err)
		}
		opts.ChipID = uint16(id)
	}
	opts.DDRProcessor = *f.ddrProcessor
	opts.DDRChip = *f.ddrChip

	if *f.ddrPath != "" || *f.splPath != "" || *f.ubootPath != "" {
		bundle, err := loadBundle(*f.ddrPath, *f.splPath, *f.ubootPath, *f.skipDDR)
		if err != nil {
			return opts, err
		}
		opts.Bundle = &bundle
	}

	// Environment-like configuration (spec.md §6) fills in anything the
	// flags above left at zero value.
	return cloner.OptionsFromEnv(opts), nil
}

func loadBundle(ddrPath, splPath, ubootPath string, skipDDR bool) (boot.Bundle, error) {
	var bundle boot.Bundle
	var err error
	if !skipDDR && ddrPath != "" {
		if bundle.DDRConfig, err = os.ReadFile(ddrPath); err != nil {
			return bundle, fmt.Errorf("read DDR config %q: %w", ddrPath, err)
		}
	}
	if splPath != "" {
		if bundle.SPL, err = os.ReadFile(splPath); err != nil {
			return bundle, fmt.Errorf("read SPL %q: %w", splPath, err)
		}
	}
	if ubootPath != "" {
		if bundle.UBoot, err = os.ReadFile(ubootPath); err != nil {
			return bundle, fmt.Errorf("read U-Boot %q: %w", ubootPath, err)
		}
	}
	return bundle, nil
}

func openTarget(logger *log.Logger, deviceIndex int) (*cloner.Session, ident.Device, error) {
	session := cloner.NewSession(logger, cloner.NewStaticProvider())
	devices, err := session.List()
	if err != nil {
		session.Close()
		return nil, ident.Device{}, err
	}
	if deviceIndex < 0 || deviceIndex >= len(devices) {
		session.Close()
		return nil, ident.Device{}, fmt.Errorf("device index %d out of range (found %d device(s))", deviceIndex, len(devices))
	}
	dev := devices[deviceIndex]
	if err := session.Open(dev); err != nil {
		session.Close()
		return nil, ident.Device{}, err
	}
	return session, dev, nil
}

func runList(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	session := cloner.NewSession(logger, cloner.NewStaticProvider())
	defer session.Close()

	devices, err := session.List()
	if err != nil {
		return err
	}
	for i, d := range devices {
		fmt.Printf("%d: bus=%d addr=%d vid=%04x pid=%04x stage=%s variant=%s\n",
			i, d.Bus, d.Address, uint16(d.Vendor), uint16(d.Product), d.Identity.Stage, d.Identity.Variant)
	}
	return nil
}

func runBootstrap(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	bf := registerBootstrapFlags(fs)
	fs.Parse(args)

	opts, err := bf.options()
	if err != nil {
		return err
	}

	session, dev, err := openTarget(logger, *bf.device)
	if err != nil {
		return err
	}
	defer session.Close()

	identity, err := session.Bootstrap(opts)
	if err != nil {
		return err
	}
	fmt.Printf("bootstrap complete: bus=%d addr=%d variant=%s stage=%s\n", dev.Bus, dev.Address, identity.Variant, identity.Stage)
	return nil
}

func runRead(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	bf := registerBootstrapFlags(fs)
	outPath := fs.String("out", "flash.bin", "output file path")
	fs.Parse(args)

	opts, err := bf.options()
	if err != nil {
		return err
	}

	session, dev, err := openTarget(logger, *bf.device)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Bootstrap(opts); err != nil {
		return fmt.Errorf("bootstrap before read: %w", err)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", *outPath, err)
	}
	defer out.Close()

	n, err := session.Read(out, opts)
	if err != nil {
		return err
	}
	fmt.Printf("read %d bytes from bus=%d addr=%d to %s\n", n, dev.Bus, dev.Address, *outPath)
	return nil
}

func runWrite(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	bf := registerBootstrapFlags(fs)
	inPath := fs.String("in", "", "input file path")
	fs.Parse(args)

	if *inPath == "" {
		return fmt.Errorf("write requires -in")
	}

	opts, err := bf.options()
	if err != nil {
		return err
	}

	session, dev, err := openTarget(logger, *bf.device)
	if err != nil {
		return err
	}
	defer session.Close()

	identity, err := session.Bootstrap(opts)
	if err != nil {
		return fmt.Errorf("bootstrap before write: %w", err)
	}

	data, err := os.ReadFile(*inPath)
	if err != nil {
		return fmt.Errorf("read %q: %w", *inPath, err)
	}

	poll := func() (uint32, error) {
		buf, err := session.Ops.FWReadStatus2()
		if err != nil {
			return 0, err
		}
		h := proto.ParseHandshake(buf)
		return uint32(h.Status)<<16 | uint32(h.Reserved), nil
	}

	if err := session.Write(data, identity.Variant, opts, poll); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to bus=%d addr=%d\n", len(data), dev.Bus, dev.Address)
	return nil
}
