package main

import (
	"time"

	flag "github.com/spf13/pflag"
)

// cliFlags holds the capture flags.
type cliFlags struct {
	size     string
	format   string
	output   string
	dpr      float64
	noJS     bool
	wait     string
	timeout  time.Duration
	stealth  bool
	blockAds bool
	headers  []string
	verbose  bool
}

func bindFlags(fs *flag.FlagSet, f *cliFlags) {
	fs.StringVarP(&f.size, "size", "s", "800x640", "Viewport size as WIDTHxHEIGHT")
	fs.StringVarP(&f.format, "format", "f", "", "Image format: jpeg or png (default: from -o extension, else jpeg)")
	fs.StringVarP(&f.output, "output", "o", "", "Output file (default: stdout)")
	fs.Float64Var(&f.dpr, "dpr", 1, "Device pixel ratio")
	fs.BoolVar(&f.noJS, "no-js", false, "Disable page JavaScript")
	fs.StringVarP(&f.wait, "wait", "w", "load", "Load signal: load, domcontentloaded, networkidle0, networkidle2")
	fs.DurationVarP(&f.timeout, "timeout", "t", 8500*time.Millisecond, "Navigation timeout, clamped to 3s-8.5s")
	fs.BoolVar(&f.stealth, "stealth", false, "Mask headless browser fingerprints")
	fs.BoolVar(&f.blockAds, "block-ads", false, "Block well-known ad and tracking domains")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, "Extra request header 'Name: value' (repeatable)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Log capture stages to stderr")
}
