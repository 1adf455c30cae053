package main

import (
	"fmt"
	"os"
)

func main() {
	// Check for command-line mode
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "train":
			if err := RunTrainCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "evaluate":
			if err := RunEvaluateCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "caption":
			if err := RunCaptionCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "features":
			if err := RunFeaturesCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "dashboard":
			// Same pipeline as train, watched live.
			args := append([]string{"-dashboard"}, os.Args[2:]...)
			if err := RunTrainCommand(args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "report":
			if err := RunReportCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	// Default: show help
	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run . [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train       Train a caption model on stored image features")
	fmt.Println("  evaluate    Evaluate the latest checkpoint on a test set")
	fmt.Println("  caption     Generate a caption for one image")
	fmt.Println("  features    Manage the image feature store (import, synth, list)")
	fmt.Println("  dashboard   Train with a live full-screen monitor")
	fmt.Println("  report      Render training history as an HTML report")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  go run . features -db=features.db -synth=64 -dataset=train.json")
	fmt.Println("  go run . train -db=features.db -train=train.json -val=val.json")
	fmt.Println("  go run . train -db=features.db -train=train.json -val=val.json -dashboard")
	fmt.Println("  go run . evaluate -db=features.db -test=test.json")
	fmt.Println("  go run . caption -db=features.db -image=img-00042 -vocab=vocab.json")
	fmt.Println("  go run . report -config=results/bahdanau/model_1/config.json")
	fmt.Println()
}
