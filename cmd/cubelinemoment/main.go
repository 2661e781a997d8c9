package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cubelinemoment/pkg/config"
	"cubelinemoment/pkg/moments"
)

func main() {
	// Parse command line arguments
	paramFile := flag.String("params", "", "YAML parameter file driving the run")
	outputDir := flag.String("output", "", "Output directory (overrides output.dir in the parameter file)")
	noPreviews := flag.Bool("no-previews", false, "Skip PNG previews, write FITS maps only")
	flag.Parse()

	if *paramFile == "" && flag.NArg() == 1 {
		// Also accept the parameter file as a bare positional argument.
		*paramFile = flag.Arg(0)
	}
	if *paramFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*paramFile)
	if err != nil {
		if errors.Is(err, config.ErrLineListMismatch) {
			log.Fatalf("Parameter file rejected: %v", err)
		}
		log.Fatalf("Failed to load parameter file: %v", err)
	}
	if *noPreviews {
		cfg.Output.Previews = false
	}

	fmt.Println("================================")
	fmt.Println("CUBE LINE MOMENT EXTRACTION")
	fmt.Printf("Target: %s   Lines: %d\n", cfg.Source.Target, len(cfg.Lines.Names))
	fmt.Println("================================")

	extractor := moments.New(&moments.Params{
		Config:    cfg,
		OutputDir: *outputDir,
	})

	startTime := time.Now()
	if err := extractor.Run(); err != nil {
		log.Fatalf("Moment extraction failed: %v", err)
	}
	elapsed := time.Since(startTime)

	summary := extractor.Summary()
	fmt.Printf("\nExtraction completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Lines processed: %d\n", summary.LinesProcessed)
	fmt.Printf("Maps written: %d\n", summary.MapsWritten)
	fmt.Printf("Bright noise map peak: %g\n", summary.NoiseBrightPeak)
}
