package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "validate-profiles":
		return runValidateProfilesCmd(args[2:], stdout, stderr)
	case "validate-policy":
		return runValidatePolicyCmd(args[2:], stdout, stderr)
	case "dry-run":
		return runDryRunCmd(args[2:], stdout, stderr)
	case "retention":
		return runRetentionCmd(args[2:], stdout, stderr)
	case "legal-hold":
		return runLegalHoldCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sTrust Gate %s%s\n", ColorBold+ColorBlue, "v1.0.0", ColorReset)
	fmt.Fprintf(w, "%sNo claim leaves without evidence.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  trustgate <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "server", "Run the trust gate server (default)")

	printSection(w, "TRACES & AUDIT")
	printCommand(w, "export", "Export an audit pack (--trace, --dir, --out)")
	printCommand(w, "replay", "Replay a stored trace (--trace, --dir, --json)")
	printCommand(w, "verify", "Verify a stored trace's integrity (--trace, --dir)")
	printCommand(w, "legal-hold", "Place or release a legal hold (--trace, --dir, --release)")
	printCommand(w, "retention", "Delete traces whose retention has expired (--dir)")

	printSection(w, "GATING")
	printCommand(w, "dry-run", "Gate a turn from a JSON file without persisting (--input)")

	printSection(w, "CONFIGURATION")
	printCommand(w, "validate-profiles", "Validate domain profile YAML files (--dir)")
	printCommand(w, "validate-policy", "Check a policy bundle against the registry (--bundle)")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-18s%s %s\n", ColorGreen, name, ColorReset, desc)
}
